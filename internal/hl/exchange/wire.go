package exchange

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	perpMaxDecimals = 6
	priceSigFigs    = 5
)

func LimitOrderWire(asset int, isBuy bool, size, limit decimal.Decimal, reduceOnly bool, tif Tif, cloid string) (OrderWire, error) {
	if tif == "" {
		return OrderWire{}, errors.New("tif is required")
	}
	if size.Sign() <= 0 {
		return OrderWire{}, errors.New("size must be > 0")
	}
	price, err := decimalToWire(limit)
	if err != nil {
		return OrderWire{}, fmt.Errorf("limit price: %w", err)
	}
	sizeWire, err := decimalToWire(size)
	if err != nil {
		return OrderWire{}, fmt.Errorf("size: %w", err)
	}
	return OrderWire{
		Asset:      asset,
		IsBuy:      isBuy,
		Price:      price,
		Size:       sizeWire,
		ReduceOnly: reduceOnly,
		OrderType:  OrderTypeWire{Limit: &LimitOrderType{Tif: tif}},
		Cloid:      cloid,
	}, nil
}

func decimalToWire(x decimal.Decimal) (string, error) {
	if !x.Equal(x.Round(8)) {
		return "", fmt.Errorf("wire value needs more than 8 decimals: %s", x)
	}
	if x.IsZero() {
		return "0", nil
	}
	return x.Round(8).String(), nil
}

// RoundPrice trims a perp price to five significant figures and at most
// 6-szDecimals decimals. Integer prices are always accepted.
func RoundPrice(px decimal.Decimal, szDecimals int32) decimal.Decimal {
	if px.Sign() <= 0 {
		return decimal.Zero
	}
	digits := int32(len(px.Coefficient().String()))
	magnitude := digits - 1 + px.Exponent()
	places := priceSigFigs - 1 - magnitude
	if places < 0 {
		places = 0
	}
	if maxDecimals := perpMaxDecimals - szDecimals; places > maxDecimals {
		places = maxDecimals
	}
	return px.Round(places)
}

// RoundSize truncates a size to the asset's lot precision.
func RoundSize(sz decimal.Decimal, szDecimals int32) decimal.Decimal {
	return sz.Truncate(szDecimals)
}
