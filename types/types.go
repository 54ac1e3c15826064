// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

// Package types defines shared value types used across the attestix engine.
package types

// TokenVersion is the wire version stamped into every agent identity token.
const TokenVersion = "0.1.0"

// DIDMethod enumerates the Decentralized Identifier methods the engine
// resolves locally. Any other method is delegated to a universal resolver.
type DIDMethod string

const (
	DIDMethodKey DIDMethod = "key"
	DIDMethodWeb DIDMethod = "web"
)

// KeyAlgorithm identifies the cryptographic algorithm used by a key pair.
type KeyAlgorithm string

const (
	KeyAlgorithmEd25519 KeyAlgorithm = "Ed25519"
)

// VerificationMethodType identifies the type of a DID verification method.
type VerificationMethodType string

const (
	VerificationMethodEd25519 VerificationMethodType = "Ed25519VerificationKey2020"
)

// ProofType identifies the type of a Linked Data Proof.
type ProofType string

const (
	ProofTypeEd25519Signature ProofType = "Ed25519Signature2020"
)

// TranslationFormat enumerates the output shapes IdentityRegistry.Translate
// can project an agent identity token into.
type TranslationFormat string

const (
	FormatAgentCard   TranslationFormat = "a2a_agent_card"
	FormatDIDDocument TranslationFormat = "did_document"
	FormatOAuthClaims TranslationFormat = "oauth_claims"
	FormatSummary     TranslationFormat = "summary"
)

// ActionType classifies an audited agent action.
type ActionType string

const (
	ActionInference    ActionType = "inference"
	ActionDelegation   ActionType = "delegation"
	ActionDataAccess   ActionType = "data_access"
	ActionExternalCall ActionType = "external_call"
	// ActionIdentityLifecycle and ActionCredentialLifecycle record the
	// engine's own issue/revoke/purge operations.
	ActionIdentityLifecycle   ActionType = "identity_lifecycle"
	ActionCredentialLifecycle ActionType = "credential_lifecycle"
)

// ValidActionTypes is the closed set accepted by the audit chain.
var ValidActionTypes = map[ActionType]bool{
	ActionInference:           true,
	ActionDelegation:          true,
	ActionDataAccess:          true,
	ActionExternalCall:        true,
	ActionIdentityLifecycle:   true,
	ActionCredentialLifecycle: true,
}

// DelegationRole selects which side of a delegation an agent is on when listing.
type DelegationRole string

const (
	RoleIssuer   DelegationRole = "issuer"
	RoleAudience DelegationRole = "audience"
	RoleAny      DelegationRole = "any"
)

// ArtifactType classifies what kind of artifact an anchor commits to.
type ArtifactType string

const (
	ArtifactIdentity    ArtifactType = "identity"
	ArtifactCredential  ArtifactType = "credential"
	ArtifactDeclaration ArtifactType = "declaration"
	ArtifactAuditBatch  ArtifactType = "audit_batch"
)

// ValidArtifactTypes is the closed set accepted by the anchor service.
var ValidArtifactTypes = map[ArtifactType]bool{
	ArtifactIdentity:    true,
	ArtifactCredential:  true,
	ArtifactDeclaration: true,
	ArtifactAuditBatch:  true,
}
