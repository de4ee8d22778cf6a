package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSortOrder(t *testing.T) {
	assert.Equal(t, "DESC", ValidateSortOrder(" desc "))
	assert.Equal(t, "ASC", ValidateSortOrder("asc"))
	assert.Equal(t, "ASC", ValidateSortOrder("; DROP TABLE products"))
	assert.Equal(t, "ASC", ValidateSortOrder(""))
}

func TestValidateSortField(t *testing.T) {
	assert.Equal(t, "name", ValidateSortField("name", ProductSortFields, "code"))
	assert.Equal(t, "code", ValidateSortField("unit_cost", ProductSortFields, "code"))
	assert.Equal(t, "code", ValidateSortField("", ProductSortFields, "code"))
	assert.Equal(t, "code", ValidateSortField("name; --", ProductSortFields, "code"))
}
