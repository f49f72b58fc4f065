package runes

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ComputeConnectionIdentity derives the deterministic connection token for a
// method contract: a name-based UUID (v5) with the master token as namespace
// and the canonical JSON form of the contract as name. The same
// contract+metadata combination always yields the same identity; changing
// any descriptive field or parameter changes it.
func ComputeConnectionIdentity(masterToken string, contract *MethodContract) (string, error) {
	namespace, err := uuid.Parse(masterToken)
	if err != nil {
		return "", &StateError{
			Message: fmt.Sprintf("master token '%s' is not a valid UUID", masterToken),
		}
	}

	canonical, err := canonicalContractJSON(contract)
	if err != nil {
		return "", err
	}

	return uuid.NewSHA1(namespace, canonical).String(), nil
}

// canonicalContractJSON produces the canonical serialized form of a contract.
// Struct field order is fixed and map keys are sorted by encoding/json, so
// the output is deterministic for identity derivation.
func canonicalContractJSON(contract *MethodContract) ([]byte, error) {
	data, err := json.Marshal(contract)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize method contract: %w", err)
	}
	return data, nil
}

// ValidateMasterToken checks that a token is a well-formed UUID
func ValidateMasterToken(token string) error {
	if _, err := uuid.Parse(token); err != nil {
		return &ValidationError{
			Message: fmt.Sprintf("invalid token: '%s'. Token must be a valid UUID", token),
		}
	}
	return nil
}
