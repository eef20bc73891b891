package p2p

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/veilledger/veilledger/internal/apierrors"
	"github.com/veilledger/veilledger/internal/ledgerconst"
)

// WriteMessage frames msg as [4-byte big-endian length][JSON payload] and
// writes it to conn, bounding the write by conn's configured deadline.
func WriteMessage(conn net.Conn, msg *Message) error {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: marshal p2p message: %v", apierrors.ErrSerializationFailure, err)
	}

	if err := conn.SetWriteDeadline(time.Now().Add(ledgerconst.P2PWriteTimeout)); err != nil {
		return fmt.Errorf("%w: set write deadline: %v", apierrors.ErrStorageFailure, err)
	}

	lengthPrefix := make([]byte, 4)
	binary.BigEndian.PutUint32(lengthPrefix, uint32(len(encoded)))
	if _, err := conn.Write(lengthPrefix); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := conn.Write(encoded); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// ReadMessage reads a length-prefixed message from conn, rejecting any
// declared length over MaxMessageSizeBytes before allocating a buffer for
// it.
func ReadMessage(conn net.Conn) (*Message, error) {
	if err := conn.SetReadDeadline(time.Now().Add(ledgerconst.P2PReadTimeout)); err != nil {
		return nil, fmt.Errorf("%w: set read deadline: %v", apierrors.ErrStorageFailure, err)
	}

	var lengthPrefix [4]byte
	if _, err := io.ReadFull(conn, lengthPrefix[:]); err != nil {
		return nil, fmt.Errorf("read length prefix: %w", err)
	}
	length := binary.BigEndian.Uint32(lengthPrefix[:])
	if length > ledgerconst.MaxMessageSizeBytes {
		return nil, fmt.Errorf("declared length %d exceeds %d byte ceiling: %w", length, ledgerconst.MaxMessageSizeBytes, apierrors.ErrPayloadTooLarge)
	}

	buf := make([]byte, length)
	if err := conn.SetReadDeadline(time.Now().Add(ledgerconst.P2PReadTimeout)); err != nil {
		return nil, fmt.Errorf("%w: set read deadline: %v", apierrors.ErrStorageFailure, err)
	}
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(buf, &msg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal p2p message: %v", apierrors.ErrSerializationFailure, err)
	}
	return &msg, nil
}
