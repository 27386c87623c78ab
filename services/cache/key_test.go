package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meridiancrm/ai-core/models"
)

func TestBuildKey_Deterministic(t *testing.T) {
	a := map[string]interface{}{
		"name":    "Ada Lovelace",
		"email":   "ada@example.com",
		"company": "Analytical Engines",
	}
	b := map[string]interface{}{
		"company": "Analytical Engines",
		"email":   "ada@example.com",
		"name":    "Ada Lovelace",
	}

	assert.Equal(t, BuildKey(models.OperationScoring, a), BuildKey(models.OperationScoring, b))
}

func TestBuildKey_NestedFieldOrder(t *testing.T) {
	a := map[string]interface{}{
		"contact": map[string]interface{}{"first": "Ada", "last": "Lovelace"},
		"history": []interface{}{map[string]interface{}{"type": "email", "at": "2026-01-01"}},
	}
	b := map[string]interface{}{
		"history": []interface{}{map[string]interface{}{"at": "2026-01-01", "type": "email"}},
		"contact": map[string]interface{}{"last": "Lovelace", "first": "Ada"},
	}

	assert.Equal(t, BuildKey(models.OperationEnrichment, a), BuildKey(models.OperationEnrichment, b))
}

func TestBuildKey_DifferentParams(t *testing.T) {
	a := map[string]interface{}{"name": "Ada"}
	b := map[string]interface{}{"name": "Grace"}

	assert.NotEqual(t, BuildKey(models.OperationScoring, a), BuildKey(models.OperationScoring, b))
}

func TestBuildKey_OperationIsPartOfKey(t *testing.T) {
	params := map[string]interface{}{"name": "Ada"}

	assert.NotEqual(t,
		BuildKey(models.OperationScoring, params),
		BuildKey(models.OperationEnrichment, params))
}

func TestBuildKey_NilParams(t *testing.T) {
	assert.Equal(t,
		BuildKey(models.OperationScoring, nil),
		BuildKey(models.OperationScoring, nil))
}

func TestBuildKey_StructAndMapAgree(t *testing.T) {
	type contact struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}

	a := map[string]interface{}{"contact": contact{Name: "Ada", Email: "ada@example.com"}}
	b := map[string]interface{}{"contact": map[string]interface{}{"email": "ada@example.com", "name": "Ada"}}

	assert.Equal(t, BuildKey(models.OperationScoring, a), BuildKey(models.OperationScoring, b))
}
