// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 VibeTensor, Inc.

package credential

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VibeTensor/attestix/types"
)

func presentationFor(t *testing.T, e *Engine, holder string, credIDs []string) *Presentation {
	t.Helper()
	vp, err := e.CreatePresentation(context.Background(), PresentationOptions{
		HolderID:      holder,
		CredentialIDs: credIDs,
		AudienceDID:   "did:web:verifier.example",
		Challenge:     "nonce-1234",
	})
	require.NoError(t, err)
	return vp
}

func TestCreateAndVerifyPresentation(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	first := issueFor(t, e, "ax:holder")
	second := issueFor(t, e, "ax:holder")

	vp := presentationFor(t, e, "ax:holder", []string{first.ID, second.ID})
	assert.Equal(t, []string{"VerifiablePresentation"}, vp.Type)
	assert.Equal(t, "nonce-1234", vp.Proof.Challenge)
	assert.Equal(t, "did:web:verifier.example", vp.Proof.Domain)
	assert.Equal(t, "authentication", vp.Proof.ProofPurpose)

	result, err := e.VerifyPresentation(ctx, vp)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, PresentationChecks{
		StructureValid: true, VPSignatureValid: true,
		ChallengePresent: true, DomainPresent: true,
		CredentialsValid: true, HolderMatchesSubjects: true,
	}, result.Checks)
	assert.Len(t, result.CredentialResults, 2)
}

func TestPresentationRejectsForeignSubject(t *testing.T) {
	e := newEngine(t)
	mine := issueFor(t, e, "ax:holder")
	theirs := issueFor(t, e, "ax:other")

	_, err := e.CreatePresentation(context.Background(), PresentationOptions{
		HolderID:      "ax:holder",
		CredentialIDs: []string{mine.ID, theirs.ID},
	})
	var mismatch *types.ErrSubjectMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, theirs.ID, mismatch.CredentialID)
	assert.Equal(t, "ax:holder", mismatch.Holder)
	assert.Equal(t, "ax:other", mismatch.Subject)
}

func TestVerifyPresentationRequiresChallengeAndDomain(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	cred := issueFor(t, e, "ax:holder")

	vp, err := e.CreatePresentation(ctx, PresentationOptions{
		HolderID:      "ax:holder",
		CredentialIDs: []string{cred.ID},
	})
	require.NoError(t, err)

	result, err := e.VerifyPresentation(ctx, vp)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.True(t, result.Checks.VPSignatureValid)
	assert.False(t, result.Checks.ChallengePresent)
	assert.False(t, result.Checks.DomainPresent)
}

func TestVerifyPresentationDetectsTampering(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	cred := issueFor(t, e, "ax:holder")
	vp := presentationFor(t, e, "ax:holder", []string{cred.ID})

	vp.Challenge = "replayed-nonce"
	result, err := e.VerifyPresentation(ctx, vp)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.False(t, result.Checks.VPSignatureValid)
}

func TestVerifyPresentationWithRevokedCredential(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	cred := issueFor(t, e, "ax:holder")
	vp := presentationFor(t, e, "ax:holder", []string{cred.ID})

	_, err := e.Revoke(ctx, cred.ID, "reassessed")
	require.NoError(t, err)

	// The embedded copy predates revocation; it still verifies. The revoked
	// state travels with freshly fetched copies only.
	result, err := e.VerifyPresentation(ctx, vp)
	require.NoError(t, err)
	assert.True(t, result.Checks.CredentialsValid)

	fresh, err := e.Get(ctx, cred.ID)
	require.NoError(t, err)
	vp2 := presentationFor(t, e, "ax:holder", []string{cred.ID})
	vp2.VerifiableCredential = []*Credential{fresh}

	result, err = e.VerifyPresentation(ctx, vp2)
	require.NoError(t, err)
	assert.False(t, result.Checks.CredentialsValid)
	assert.False(t, result.Valid)
}

func TestVerifyPresentationHolderMismatch(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	cred := issueFor(t, e, "ax:holder")
	vp := presentationFor(t, e, "ax:holder", []string{cred.ID})

	vp.Holder = "ax:impostor"
	result, err := e.VerifyPresentation(ctx, vp)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.False(t, result.Checks.HolderMatchesSubjects)
	assert.False(t, result.Checks.VPSignatureValid)
}
