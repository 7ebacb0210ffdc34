package p2p

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/petiidev/goblockchain/coreerr"
)

// writeTimeout bounds every outbound send; a peer that never drains its
// read buffer must not be able to hang a sender indefinitely.
const writeTimeout = 5 * time.Second

// maxMessageBytes caps the length prefix against a malicious or corrupt
// peer claiming an absurd body size.
const maxMessageBytes = 32 << 20

// envelope carries a Message through gob, which records the registered
// concrete type alongside the value.
type envelope struct {
	M Message
}

// writeMessage frames and sends msg: a 4-byte big-endian length followed
// by the gob encoding of the envelope.
func writeMessage(conn net.Conn, msg Message) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope{M: msg}); err != nil {
		return fmt.Errorf("p2p: encode message: %w", err)
	}

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("p2p: set write deadline: %w", err)
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := conn.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("%w: write length: %s", coreerr.ErrPeerUnreachable, err)
	}
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("%w: write body: %s", coreerr.ErrPeerUnreachable, err)
	}
	return nil
}

// readMessage blocks until one framed message has been read from conn, or
// the connection is closed/errors.
func readMessage(conn net.Conn) (Message, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(conn, lenPrefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxMessageBytes {
		return nil, fmt.Errorf("%w: message of %d bytes exceeds limit", coreerr.ErrProtocol, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, fmt.Errorf("p2p: read message body: %w", err)
	}

	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: decode message: %s", coreerr.ErrProtocol, err)
	}
	return env.M, nil
}
