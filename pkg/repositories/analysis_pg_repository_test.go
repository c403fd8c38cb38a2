//go:build integration

package repositories

import (
	"testing"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/testhelpers"
)

func TestPostgresAnalysisRepository(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	testAnalysisRepository(t, NewPostgresAnalysisRepository(testDB.DB))
}
