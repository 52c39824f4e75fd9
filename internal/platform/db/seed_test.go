package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDemoEmployeesAreActiveAndUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, e := range DemoEmployees() {
		assert.True(t, e.Active, e.Matricule)
		assert.True(t, e.BaseSalary.IsPositive(), e.Matricule)
		assert.False(t, seen[e.Matricule], "duplicate matricule %s", e.Matricule)
		seen[e.Matricule] = true
	}
	assert.Len(t, seen, 3)
}
