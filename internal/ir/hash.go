package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix leaves room for
// changing the algorithm.
const (
	DomainFlow       = "blockflow/flow/v1"
	DomainDescriptor = "blockflow/descriptor/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data). The separator keeps
// the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// FlowHash is the content hash of a flow document. Equal documents hash
// equally whatever their key order.
func FlowHash(doc map[string]any) (string, error) {
	canonical, err := MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("FlowHash: %w", err)
	}
	return hashWithDomain(DomainFlow, canonical), nil
}

// DescriptorHash is the content hash of a function descriptor's wire form.
func DescriptorHash(desc map[string]any) (string, error) {
	canonical, err := MarshalCanonical(desc)
	if err != nil {
		return "", fmt.Errorf("DescriptorHash: %w", err)
	}
	return hashWithDomain(DomainDescriptor, canonical), nil
}

// MustFlowHash is FlowHash that panics on error. For tests.
func MustFlowHash(doc map[string]any) string {
	h, err := FlowHash(doc)
	if err != nil {
		panic(err)
	}
	return h
}
