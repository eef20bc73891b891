package ledgertypes

import (
	"fmt"

	"github.com/veilledger/veilledger/internal/nexuserrors"
	"github.com/veilledger/veilledger/internal/validationutils"
)

const (
	maxLabelLength   = 256
	userSaltHexLen   = 64
	macHexLen        = 64
	maxCiphertextLen = 1 << 20 // 1 MiB, generous ceiling on a single collection's stored ciphertext
)

// Validate checks an EncryptedCollection's fields for structural
// correctness. Like UserAccount.Validate, it does not verify the signature
// or MAC — those require the owner's secret or the public key already
// embedded in the record, and are checked with VerifySignature/VerifyMAC.
func (c *EncryptedCollection) Validate() error {
	if c == nil {
		return fmt.Errorf("EncryptedCollection: %w", nexuserrors.ErrMissingField)
	}
	if !validationutils.IsValidUUID(c.CollectionID) {
		return fmt.Errorf("CollectionID '%s': %w", c.CollectionID, nexuserrors.ErrInvalidUUID)
	}
	if err := validationutils.CheckStringLength(c.OwnerSecretHash, "OwnerSecretHash", secretHashHexLen, secretHashHexLen); err != nil {
		return err
	}
	if err := validationutils.CheckAllowedChars(c.OwnerSecretHash, "OwnerSecretHash", hexPattern); err != nil {
		return err
	}
	if err := validationutils.CheckStringLength(c.EncryptedMetadata, "EncryptedMetadata", 1, maxCiphertextLen); err != nil {
		return err
	}
	if err := validationutils.CheckStringLength(c.EncryptedPayload, "EncryptedPayload", 1, maxCiphertextLen); err != nil {
		return err
	}
	if err := validationutils.CheckStringLength(c.MAC, "MAC", macHexLen, macHexLen); err != nil {
		return err
	}
	if err := validationutils.CheckAllowedChars(c.MAC, "MAC", hexPattern); err != nil {
		return err
	}
	if err := validationutils.CheckStringLength(c.UserSalt, "UserSalt", userSaltHexLen, userSaltHexLen); err != nil {
		return err
	}
	if err := validationutils.CheckAllowedChars(c.UserSalt, "UserSalt", hexPattern); err != nil {
		return err
	}
	if err := validationutils.CheckStringLength(c.Signature, "Signature", signatureHexLen, signatureHexLen); err != nil {
		return err
	}
	if err := validationutils.CheckAllowedChars(c.Signature, "Signature", hexPattern); err != nil {
		return err
	}
	if err := validationutils.CheckStringLength(c.PublicKey, "PublicKey", publicKeyHexLen, publicKeyHexLen); err != nil {
		return err
	}
	return nil
}

// ValidateLabel checks a proposed collection label against the write-path
// size/charset constraints spec.md §4.6 step 3 requires before a label
// ever reaches NewEncryptedCollection.
func ValidateLabel(label string) error {
	if err := validationutils.CheckStringLength(label, "label", 1, maxLabelLength); err != nil {
		return err
	}
	for _, r := range label {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("label: %w", nexuserrors.ErrInvalidCharacters)
		}
	}
	return nil
}
