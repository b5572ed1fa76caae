package utils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type createDTO struct {
	Name string
	Tax  decimal.Decimal
}

type patchDTO struct {
	Name *string
	Tax  *decimal.Decimal
	Skip *string
}

func TestNormalizeDTO(t *testing.T) {
	dto := createDTO{
		Name: "  Acme GmbH ",
		Tax:  decimal.RequireFromString("2.505"),
	}
	NormalizeDTO(&dto)
	assert.Equal(t, "Acme GmbH", dto.Name)
	assert.Equal(t, "2.51", dto.Tax.StringFixed(2))
}

func TestNormalizePtrDTOLeavesNilsAlone(t *testing.T) {
	name := " trimmed "
	tax := decimal.RequireFromString("19.999")
	dto := patchDTO{Name: &name, Tax: &tax}

	NormalizePtrDTO(&dto)
	assert.Equal(t, "trimmed", *dto.Name)
	assert.Equal(t, "20.00", dto.Tax.StringFixed(2))
	assert.Nil(t, dto.Skip)
}
