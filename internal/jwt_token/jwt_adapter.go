package jwttoken

import "payguard/internal/platform/middleware"

// Validator adapts a Signer to middleware.JWTValidator.
type Validator struct {
	signer *Signer
}

func NewValidator(signer *Signer) *Validator {
	return &Validator{signer: signer}
}

func (v *Validator) ValidateToken(raw string) (*middleware.JWTClaims, error) {
	claims, err := v.signer.Validate(raw)
	if err != nil {
		return nil, err
	}
	return &middleware.JWTClaims{Subject: claims.MerchantID, TokenID: claims.ID}, nil
}
