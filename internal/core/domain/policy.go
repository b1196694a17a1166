package domain

import "github.com/shopspring/decimal"

// ShippingPolicy prices a shipment in the order's currency minor units.
//
//	chargeable = max(weight, L*W*H / VolumetricDivisor), rounded up to whole kg
//	subtotal   = BaseFee + PerKgFee*chargeable
//	express    adds ExpressPercent of subtotal
//	fragile    adds FragileFee
//	insurance  adds InsurancePercent of the declared order value
type ShippingPolicy struct {
	BaseFee           int64
	PerKgFee          int64
	VolumetricDivisor decimal.Decimal
	ExpressPercent    int64
	FragileFee        int64
	InsurancePercent  int64
}

func DefaultShippingPolicy() ShippingPolicy {
	return ShippingPolicy{
		BaseFee:           500,
		PerKgFee:          200,
		VolumetricDivisor: decimal.NewFromInt(5000),
		ExpressPercent:    50,
		FragileFee:        300,
		InsurancePercent:  1,
	}
}

func (p ShippingPolicy) Validate() error {
	if p.BaseFee < 0 || p.PerKgFee < 0 || p.ExpressPercent < 0 || p.FragileFee < 0 || p.InsurancePercent < 0 {
		return NewValidationError("shipping policy fees must be >= 0")
	}
	if !p.VolumetricDivisor.IsPositive() {
		return NewValidationError("volumetric divisor must be positive")
	}
	return nil
}

func (p ShippingPolicy) Calculate(weight decimal.Decimal, dims Dimensions, opts ShippingOptions, declared Money) (Money, error) {
	if err := p.Validate(); err != nil {
		return Money{}, err
	}
	if err := validateWeight(weight); err != nil {
		return Money{}, err
	}
	if err := dims.Validate(); err != nil {
		return Money{}, err
	}
	if err := declared.Validate(); err != nil {
		return Money{}, err
	}

	chargeable := decimal.Max(weight, dims.Volume().Div(p.VolumetricDivisor)).Ceil().IntPart()
	cost := p.BaseFee + p.PerKgFee*chargeable
	if opts.ExpressDelivery {
		cost += cost * p.ExpressPercent / 100
	}
	if opts.FragileHandling {
		cost += p.FragileFee
	}
	if opts.Insurance {
		cost += declared.Amount * p.InsurancePercent / 100
	}
	return Money{Currency: declared.Currency, Amount: cost}, nil
}

// ParcelPolicy bounds how much a single parcel may carry. A zero MaxWeight
// disables the check.
type ParcelPolicy struct {
	MaxWeight decimal.Decimal
}

func DefaultParcelPolicy() ParcelPolicy {
	return ParcelPolicy{MaxWeight: decimal.NewFromInt(30)}
}

func (p ParcelPolicy) Check(items []OrderItem) error {
	if p.MaxWeight.IsZero() {
		return nil
	}
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineWeight())
	}
	if total.GreaterThan(p.MaxWeight) {
		return NewValidationError("parcel items weigh %s kg, limit is %s kg", total, p.MaxWeight)
	}
	return nil
}
