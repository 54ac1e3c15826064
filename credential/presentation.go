// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/VibeTensor/attestix/keys"
	"github.com/VibeTensor/attestix/types"
)

// Presentation is a W3C Verifiable Presentation: a signed bundle of
// credentials addressed to one verifier. Challenge and Domain bind the
// presentation to a single verification exchange so it cannot be replayed.
type Presentation struct {
	Context              []string      `json:"@context"`
	ID                   string        `json:"id"`
	Type                 []string      `json:"type"`
	Holder               string        `json:"holder"`
	VerifiableCredential []*Credential `json:"verifiableCredential"`
	Domain               string        `json:"domain,omitempty"`
	Challenge            string        `json:"challenge,omitempty"`
	Proof                *Proof        `json:"proof,omitempty"`
}

// presentationPayload projects a presentation onto its signed fields.
func presentationPayload(vp *Presentation) (map[string]any, error) {
	raw, err := json.Marshal(vp)
	if err != nil {
		return nil, fmt.Errorf("credential: marshal presentation: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("credential: unmarshal presentation: %w", err)
	}
	delete(m, "proof")
	return m, nil
}

// PresentationOptions carries parameters for Engine.CreatePresentation.
type PresentationOptions struct {
	HolderID      string
	CredentialIDs []string
	// AudienceDID becomes the presentation's domain.
	AudienceDID string
	// Challenge is the verifier-supplied nonce.
	Challenge string
}

// CreatePresentation bundles stored credentials into a signed presentation.
// Every embedded credential's subject must be the holder; a mismatch fails
// with SubjectMismatch before anything is signed.
func (e *Engine) CreatePresentation(ctx context.Context, opts PresentationOptions) (*Presentation, error) {
	if opts.HolderID == "" {
		return nil, fmt.Errorf("credential: HolderID must not be empty")
	}
	if len(opts.CredentialIDs) == 0 {
		return nil, fmt.Errorf("credential: CredentialIDs must not be empty")
	}

	credentials := make([]*Credential, 0, len(opts.CredentialIDs))
	for _, id := range opts.CredentialIDs {
		cred, err := e.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if subject := cred.Subject(); subject != opts.HolderID {
			return nil, &types.ErrSubjectMismatch{
				CredentialID: id,
				Holder:       opts.HolderID,
				Subject:      subject,
			}
		}
		credentials = append(credentials, cred)
	}

	signerDID, err := e.keys.DID(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	vp := &Presentation{
		Context:              vcContext,
		ID:                   "urn:uuid:" + uuid.NewString(),
		Type:                 []string{"VerifiablePresentation"},
		Holder:               opts.HolderID,
		VerifiableCredential: credentials,
		Domain:               opts.AudienceDID,
		Challenge:            opts.Challenge,
	}

	payload, err := presentationPayload(vp)
	if err != nil {
		return nil, err
	}
	signature, err := e.keys.SignCanonical(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("credential: sign presentation: %w", err)
	}
	vp.Proof = &Proof{
		Type:               string(types.ProofTypeEd25519Signature),
		Created:            now.Format(time.RFC3339),
		VerificationMethod: signerDID + "#key-1",
		ProofPurpose:       "authentication",
		ProofValue:         signature,
		Challenge:          opts.Challenge,
		Domain:             opts.AudienceDID,
	}

	e.logger.Info("presentation created",
		"presentation_id", vp.ID, "holder", opts.HolderID,
		"credentials", len(credentials))
	return vp, nil
}

// PresentationChecks are the independent verification outcomes for a
// presentation.
type PresentationChecks struct {
	StructureValid        bool `json:"structure_valid"`
	VPSignatureValid      bool `json:"vp_signature_valid"`
	ChallengePresent      bool `json:"challenge_present"`
	DomainPresent         bool `json:"domain_present"`
	CredentialsValid      bool `json:"credentials_valid"`
	HolderMatchesSubjects bool `json:"holder_matches_subjects"`
}

// PresentationResult reports a presentation's verification outcome.
type PresentationResult struct {
	PresentationID string             `json:"presentation_id,omitempty"`
	Holder         string             `json:"holder,omitempty"`
	Valid          bool               `json:"valid"`
	Checks         PresentationChecks `json:"checks"`
	// CredentialResults holds the per-credential outcomes behind
	// Checks.CredentialsValid.
	CredentialResults []*VerifyResult `json:"credential_results,omitempty"`
}

// VerifyPresentation runs every sub-check on a caller-supplied presentation.
// Each embedded credential is independently verified; overall validity is
// the conjunction of all checks.
func (e *Engine) VerifyPresentation(ctx context.Context, vp *Presentation) (*PresentationResult, error) {
	result := &PresentationResult{PresentationID: vp.ID, Holder: vp.Holder}

	result.Checks.StructureValid = vp.ID != "" && vp.Holder != "" &&
		len(vp.VerifiableCredential) > 0 && vp.Proof != nil && vp.Proof.ProofValue != ""
	result.Checks.ChallengePresent = vp.Challenge != ""
	result.Checks.DomainPresent = vp.Domain != ""

	if result.Checks.StructureValid {
		publicKey, err := e.issuerPublicKey(ctx, verificationDID(vp.Proof.VerificationMethod))
		if err == nil {
			if payload, err := presentationPayload(vp); err == nil {
				result.Checks.VPSignatureValid = keys.VerifyCanonical(publicKey, payload, vp.Proof.ProofValue)
			}
		}
	}

	result.Checks.HolderMatchesSubjects = true
	result.Checks.CredentialsValid = len(vp.VerifiableCredential) > 0
	for _, cred := range vp.VerifiableCredential {
		if cred.Subject() != vp.Holder {
			result.Checks.HolderMatchesSubjects = false
		}
		credResult, err := e.verifyCredential(ctx, cred)
		if err != nil {
			return nil, err
		}
		result.CredentialResults = append(result.CredentialResults, credResult)
		if !credResult.Valid {
			result.Checks.CredentialsValid = false
		}
	}

	result.Valid = result.Checks.StructureValid &&
		result.Checks.VPSignatureValid &&
		result.Checks.ChallengePresent &&
		result.Checks.DomainPresent &&
		result.Checks.CredentialsValid &&
		result.Checks.HolderMatchesSubjects
	return result, nil
}

// verificationDID strips the fragment from a verificationMethod reference.
func verificationDID(verificationMethod string) string {
	for i := 0; i < len(verificationMethod); i++ {
		if verificationMethod[i] == '#' {
			return verificationMethod[:i]
		}
	}
	return verificationMethod
}
