package noiseengine

import (
	"crypto/subtle"
	"encoding/binary"
	"io"
	"sync"
	"time"

	sockstack "github.com/go-i2p/go-sockstack"
	"github.com/go-i2p/noise"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

const (
	// maxFrameSize is the largest Noise transport message.
	maxFrameSize = 65535
	// maxPayload leaves room for the AEAD tag.
	maxPayload = maxFrameSize - 16
)

// deadliner is implemented by raw sockets that support I/O deadlines.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// session is one Noise connection over a raw socket. Every handshake and
// transport message is framed with a 2-byte big-endian length.
type session struct {
	raw       sockstack.RawSocket
	hs        *noise.HandshakeState
	pattern   noise.HandshakePattern
	initiator bool
	timeout   time.Duration
	keys      *sessionKeys

	send *noise.CipherState
	recv *noise.CipherState

	// readMu guards recv and pending
	readMu  sync.Mutex
	pending []byte

	// writeMu guards send
	writeMu sync.Mutex
}

func newSession(raw sockstack.RawSocket, hs *noise.HandshakeState, pattern noise.HandshakePattern, config Config, keys *sessionKeys) *session {
	return &session{
		raw:       raw,
		hs:        hs,
		pattern:   pattern,
		initiator: config.Initiator,
		timeout:   config.HandshakeTimeout,
		keys:      keys,
	}
}

// Handshake exchanges every message of the pattern, then checks a pinned
// remote key if one was configured.
func (s *session) Handshake() error {
	if d, ok := s.raw.(deadliner); ok && s.timeout > 0 {
		if err := d.SetDeadline(time.Now().Add(s.timeout)); err == nil {
			defer d.SetDeadline(time.Time{})
		}
	}

	start := time.Now()
	for i := range s.pattern.Messages {
		var cs1, cs2 *noise.CipherState
		var err error

		if (i%2 == 0) == s.initiator {
			cs1, cs2, err = s.writeHandshakeMessage(i)
		} else {
			cs1, cs2, err = s.readHandshakeMessage(i)
		}
		if err != nil {
			return err
		}

		if cs1 != nil && cs2 != nil {
			s.setCipherStates(cs1, cs2)
		}
	}

	if s.send == nil || s.recv == nil {
		return oops.
			Code("HANDSHAKE_INCOMPLETE").
			In("noiseengine").
			With("pattern", s.pattern.Name).
			Wrapf(&protocolError{msg: "handshake produced no cipher states"}, "noise handshake failed")
	}

	if err := s.verifyPeer(); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"pattern":   s.pattern.Name,
		"initiator": s.initiator,
		"duration":  time.Since(start).String(),
	}).Debug("noise handshake complete")
	return nil
}

func (s *session) writeHandshakeMessage(i int) (*noise.CipherState, *noise.CipherState, error) {
	msg, cs1, cs2, err := s.hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, oops.
			Code("WRITE_MESSAGE_FAILED").
			In("noiseengine").
			With("message", i).
			Wrapf(&protocolError{err: err}, "failed to write handshake message")
	}
	if err := writeFrame(s.raw, msg); err != nil {
		return nil, nil, oops.
			Code("SEND_MESSAGE_FAILED").
			In("noiseengine").
			With("message", i).
			Wrapf(err, "failed to send handshake message")
	}
	return cs1, cs2, nil
}

func (s *session) readHandshakeMessage(i int) (*noise.CipherState, *noise.CipherState, error) {
	frame, err := readFrame(s.raw)
	if err != nil {
		return nil, nil, oops.
			Code("READ_MESSAGE_FAILED").
			In("noiseengine").
			With("message", i).
			Wrapf(err, "failed to read handshake message")
	}
	_, cs1, cs2, err := s.hs.ReadMessage(nil, frame)
	if err != nil {
		return nil, nil, oops.
			Code("PROCESS_MESSAGE_FAILED").
			In("noiseengine").
			With("message", i).
			Wrapf(&protocolError{err: err}, "failed to process handshake message")
	}
	return cs1, cs2, nil
}

// setCipherStates assigns directions: cs1 carries initiator to responder.
func (s *session) setCipherStates(cs1, cs2 *noise.CipherState) {
	if s.initiator {
		s.send, s.recv = cs1, cs2
	} else {
		s.send, s.recv = cs2, cs1
	}
}

// verifyPeer compares the remote static key against the pinned one.
func (s *session) verifyPeer() error {
	if len(s.keys.pinned) == 0 {
		return nil
	}
	got := s.hs.PeerStatic()
	if len(got) == 0 {
		// NN carries no static keys; the pin cannot be checked.
		return oops.
			Code("PEER_KEY_UNAVAILABLE").
			In("noiseengine").
			With("pattern", s.pattern.Name).
			Wrapf(&protocolError{msg: "peer sent no static key"}, "cannot verify pinned remote key")
	}
	if subtle.ConstantTimeCompare(got, s.keys.pinned) != 1 {
		return oops.
			Code("PEER_KEY_MISMATCH").
			In("noiseengine").
			With("pattern", s.pattern.Name).
			Wrapf(&protocolError{msg: "remote static key mismatch"}, "remote static key does not match the pinned key")
	}
	return nil
}

// Read returns decrypted bytes, buffering the rest of a frame that does not
// fit in p.
func (s *session) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.recv == nil {
		return 0, oops.
			Code("HANDSHAKE_NOT_DONE").
			In("noiseengine").
			Wrapf(&protocolError{msg: "handshake not completed"}, "cannot read")
	}

	if len(s.pending) == 0 {
		frame, err := readFrame(s.raw)
		if err != nil {
			return 0, err
		}
		plain, err := s.recv.Decrypt(nil, nil, frame)
		if err != nil {
			return 0, oops.
				Code("DECRYPT_FAILED").
				In("noiseengine").
				With("frame_size", len(frame)).
				Wrapf(&protocolError{err: err}, "failed to decrypt message")
		}
		s.pending = plain
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Write encrypts p in frames of at most maxPayload bytes.
func (s *session) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.send == nil {
		return 0, oops.
			Code("HANDSHAKE_NOT_DONE").
			In("noiseengine").
			Wrapf(&protocolError{msg: "handshake not completed"}, "cannot write")
	}

	written := 0
	for written < len(p) {
		end := written + maxPayload
		if end > len(p) {
			end = len(p)
		}
		ciphertext, err := s.send.Encrypt(nil, nil, p[written:end])
		if err != nil {
			return written, oops.
				Code("ENCRYPT_FAILED").
				In("noiseengine").
				Wrapf(&protocolError{err: err}, "failed to encrypt message")
		}
		if err := writeFrame(s.raw, ciphertext); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

// Close closes the raw socket without any goodbye message and returns it.
func (s *session) Close() (sockstack.RawSocket, error) {
	s.keys.wipe()
	if err := s.raw.Close(); err != nil {
		return s.raw, oops.
			Code("CLOSE_FAILED").
			In("noiseengine").
			Wrapf(err, "failed to close transport")
	}
	return s.raw, nil
}

func writeFrame(w io.Writer, msg []byte) error {
	if len(msg) > maxFrameSize {
		return oops.
			Code("FRAME_TOO_LARGE").
			In("noiseengine").
			With("size", len(msg)).
			Wrapf(&protocolError{msg: "frame too large"}, "cannot send message")
	}
	buf := make([]byte, 2+len(msg))
	binary.BigEndian.PutUint16(buf, uint16(len(msg)))
	copy(buf[2:], msg)

	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	frame := make([]byte, binary.BigEndian.Uint16(hdr[:]))
	if _, err := io.ReadFull(r, frame); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}
