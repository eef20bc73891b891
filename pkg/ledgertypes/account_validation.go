package ledgertypes

import (
	"fmt"
	"regexp"

	"github.com/veilledger/veilledger/internal/nexuserrors"
	"github.com/veilledger/veilledger/internal/validationutils"
)

const (
	secretHashHexLen  = 64
	publicKeyHexLen   = 64
	signatureHexLen   = 128
	maxMetadataLength = 8192
)

var hexPattern = regexp.MustCompile(`^[0-9a-f]*$`)

// Validate checks a UserAccount's fields for structural correctness. It
// does not verify the signature — callers that hold the account's
// enclosing block salt should call VerifySignature separately once the
// account has been decrypted out of its envelope.
func (a *UserAccount) Validate() error {
	if a == nil {
		return fmt.Errorf("UserAccount: %w", nexuserrors.ErrMissingField)
	}
	if !validationutils.IsValidUUID(a.AccountID) {
		return fmt.Errorf("AccountID '%s': %w", a.AccountID, nexuserrors.ErrInvalidUUID)
	}
	if err := validationutils.CheckStringLength(a.SecretHash, "SecretHash", secretHashHexLen, secretHashHexLen); err != nil {
		return err
	}
	if err := validationutils.CheckAllowedChars(a.SecretHash, "SecretHash", hexPattern); err != nil {
		return err
	}
	if err := validationutils.CheckStringLength(a.PublicKey, "PublicKey", publicKeyHexLen, publicKeyHexLen); err != nil {
		return err
	}
	if err := validationutils.CheckAllowedChars(a.PublicKey, "PublicKey", hexPattern); err != nil {
		return err
	}
	if a.CreatedAt <= 0 {
		return fmt.Errorf("CreatedAt: %w", nexuserrors.ErrInvalidTimestamp)
	}
	if err := validationutils.CheckStringLength(a.MetadataEncrypted, "MetadataEncrypted", 0, maxMetadataLength); err != nil {
		return err
	}
	if err := validationutils.CheckStringLength(a.Signature, "Signature", signatureHexLen, signatureHexLen); err != nil {
		return err
	}
	if err := validationutils.CheckAllowedChars(a.Signature, "Signature", hexPattern); err != nil {
		return err
	}
	return nil
}
