package castchannel

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// ProtocolVersion is CastMessage.ProtocolVersion.
type ProtocolVersion int32

const (
	CastV2_1_0 ProtocolVersion = 0
)

func (v ProtocolVersion) valid() bool { return v == CastV2_1_0 }

// PayloadType is CastMessage.PayloadType.
type PayloadType int32

const (
	PayloadString PayloadType = 0
	PayloadBinary PayloadType = 1
)

func (t PayloadType) valid() bool { return t == PayloadString || t == PayloadBinary }

// AuthErrorType is AuthError.ErrorType.
type AuthErrorType int32

const (
	AuthInternalError AuthErrorType = 0
	AuthNoTLS         AuthErrorType = 1
)

func (t AuthErrorType) valid() bool { return t == AuthInternalError || t == AuthNoTLS }

func (t AuthErrorType) String() string {
	switch t {
	case AuthInternalError:
		return "INTERNAL_ERROR"
	case AuthNoTLS:
		return "NO_TLS"
	default:
		return "UNKNOWN"
	}
}

// CastMessage is the channel envelope. Pointer and nil-slice fields are
// absent when nil; the first five fields are required.
type CastMessage struct {
	ProtocolVersion *ProtocolVersion // 1, required
	SourceID        *string          // 2, required
	DestinationID   *string          // 3, required
	Namespace       *string          // 4, required
	PayloadType     *PayloadType     // 5, required
	PayloadUTF8     *string          // 6, optional
	PayloadBinary   []byte           // 7, optional
}

func (*CastMessage) Kind() string { return "CastMessage" }

// Marshal is shorthand for Encode(m).
func (m *CastMessage) Marshal() ([]byte, error) { return Encode(m) }

// Unmarshal is shorthand for Decode(data, m).
func (m *CastMessage) Unmarshal(data []byte) error { return Decode(data, m) }

func (m *CastMessage) appendTo(b []byte) ([]byte, error) {
	const kind = "CastMessage"
	switch {
	case m.ProtocolVersion == nil:
		return nil, schemaErr(kind, "protocol_version is required")
	case !m.ProtocolVersion.valid():
		return nil, schemaErr(kind, "protocol_version %d out of range", *m.ProtocolVersion)
	case m.SourceID == nil:
		return nil, schemaErr(kind, "source_id is required")
	case m.DestinationID == nil:
		return nil, schemaErr(kind, "destination_id is required")
	case m.Namespace == nil:
		return nil, schemaErr(kind, "namespace is required")
	case m.PayloadType == nil:
		return nil, schemaErr(kind, "payload_type is required")
	case !m.PayloadType.valid():
		return nil, schemaErr(kind, "payload_type %d out of range", *m.PayloadType)
	}

	b = appendVarintField(b, 1, uint64(*m.ProtocolVersion))
	b = appendStringField(b, 2, *m.SourceID)
	b = appendStringField(b, 3, *m.DestinationID)
	b = appendStringField(b, 4, *m.Namespace)
	b = appendVarintField(b, 5, uint64(*m.PayloadType))
	if m.PayloadUTF8 != nil {
		b = appendStringField(b, 6, *m.PayloadUTF8)
	}
	if m.PayloadBinary != nil {
		b = appendBytesField(b, 7, m.PayloadBinary)
	}
	return b, nil
}

func (m *CastMessage) consume(b []byte) error {
	const kind = "CastMessage"
	*m = CastMessage{}
	err := walk(kind, b, func(f field) error {
		switch f.num {
		case 1:
			if err := expect(kind, f, protowire.VarintType); err != nil {
				return err
			}
			v := ProtocolVersion(int32(f.varint))
			if !v.valid() {
				return malformedErr(kind, "protocol_version %d out of range", v)
			}
			m.ProtocolVersion = &v
		case 2, 3, 4, 6:
			if err := expect(kind, f, protowire.BytesType); err != nil {
				return err
			}
			s := string(f.bytes)
			switch f.num {
			case 2:
				m.SourceID = &s
			case 3:
				m.DestinationID = &s
			case 4:
				m.Namespace = &s
			case 6:
				m.PayloadUTF8 = &s
			}
		case 5:
			if err := expect(kind, f, protowire.VarintType); err != nil {
				return err
			}
			v := PayloadType(int32(f.varint))
			if !v.valid() {
				return malformedErr(kind, "payload_type %d out of range", v)
			}
			m.PayloadType = &v
		case 7:
			if err := expect(kind, f, protowire.BytesType); err != nil {
				return err
			}
			m.PayloadBinary = cloneBytes(f.bytes)
		}
		return nil
	})
	if err != nil {
		return err
	}

	switch {
	case m.ProtocolVersion == nil:
		return malformedErr(kind, "missing protocol_version")
	case m.SourceID == nil:
		return malformedErr(kind, "missing source_id")
	case m.DestinationID == nil:
		return malformedErr(kind, "missing destination_id")
	case m.Namespace == nil:
		return malformedErr(kind, "missing namespace")
	case m.PayloadType == nil:
		return malformedErr(kind, "missing payload_type")
	}
	return nil
}

// AuthChallenge carries no fields.
type AuthChallenge struct{}

func (*AuthChallenge) Kind() string { return "AuthChallenge" }

func (m *AuthChallenge) appendTo(b []byte) ([]byte, error) {
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

func (m *AuthChallenge) consume(b []byte) error {
	return walk("AuthChallenge", b, func(field) error { return nil })
}

// AuthResponse is the receiver's answer to a challenge.
type AuthResponse struct {
	Signature             []byte   // 1, required
	ClientAuthCertificate []byte   // 2, required
	ClientCA              [][]byte // 3, repeated
}

func (*AuthResponse) Kind() string { return "AuthResponse" }

func (m *AuthResponse) appendTo(b []byte) ([]byte, error) {
	const kind = "AuthResponse"
	if m.Signature == nil {
		return nil, schemaErr(kind, "signature is required")
	}
	if m.ClientAuthCertificate == nil {
		return nil, schemaErr(kind, "client_auth_certificate is required")
	}
	if b == nil {
		b = []byte{}
	}
	b = appendBytesField(b, 1, m.Signature)
	b = appendBytesField(b, 2, m.ClientAuthCertificate)
	for _, ca := range m.ClientCA {
		b = appendBytesField(b, 3, ca)
	}
	return b, nil
}

func (m *AuthResponse) consume(b []byte) error {
	const kind = "AuthResponse"
	*m = AuthResponse{}
	err := walk(kind, b, func(f field) error {
		switch f.num {
		case 1, 2, 3:
			if err := expect(kind, f, protowire.BytesType); err != nil {
				return err
			}
		}
		switch f.num {
		case 1:
			m.Signature = cloneBytes(f.bytes)
		case 2:
			m.ClientAuthCertificate = cloneBytes(f.bytes)
		case 3:
			m.ClientCA = append(m.ClientCA, cloneBytes(f.bytes))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if m.Signature == nil {
		return malformedErr(kind, "missing signature")
	}
	if m.ClientAuthCertificate == nil {
		return malformedErr(kind, "missing client_auth_certificate")
	}
	return nil
}

// AuthError reports why the receiver refused authentication.
type AuthError struct {
	ErrorType *AuthErrorType // 1, required
}

func (*AuthError) Kind() string { return "AuthError" }

func (m *AuthError) appendTo(b []byte) ([]byte, error) {
	const kind = "AuthError"
	if m.ErrorType == nil {
		return nil, schemaErr(kind, "error_type is required")
	}
	if !m.ErrorType.valid() {
		return nil, schemaErr(kind, "error_type %d out of range", *m.ErrorType)
	}
	return appendVarintField(b, 1, uint64(*m.ErrorType)), nil
}

func (m *AuthError) consume(b []byte) error {
	const kind = "AuthError"
	*m = AuthError{}
	err := walk(kind, b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		if err := expect(kind, f, protowire.VarintType); err != nil {
			return err
		}
		v := AuthErrorType(int32(f.varint))
		if !v.valid() {
			return malformedErr(kind, "error_type %d out of range", v)
		}
		m.ErrorType = &v
		return nil
	})
	if err != nil {
		return err
	}
	if m.ErrorType == nil {
		return malformedErr(kind, "missing error_type")
	}
	return nil
}

// DeviceAuthMessage wraps at most one of challenge, response or error.
type DeviceAuthMessage struct {
	Challenge *AuthChallenge // 1, optional
	Response  *AuthResponse  // 2, optional
	Error     *AuthError     // 3, optional
}

func (*DeviceAuthMessage) Kind() string { return "DeviceAuthMessage" }

// Marshal is shorthand for Encode(m).
func (m *DeviceAuthMessage) Marshal() ([]byte, error) { return Encode(m) }

// Unmarshal is shorthand for Decode(data, m).
func (m *DeviceAuthMessage) Unmarshal(data []byte) error { return Decode(data, m) }

func (m *DeviceAuthMessage) appendTo(b []byte) ([]byte, error) {
	if b == nil {
		b = []byte{}
	}
	var err error
	if m.Challenge != nil {
		if b, err = appendMessageField(b, 1, m.Challenge); err != nil {
			return nil, err
		}
	}
	if m.Response != nil {
		if b, err = appendMessageField(b, 2, m.Response); err != nil {
			return nil, err
		}
	}
	if m.Error != nil {
		if b, err = appendMessageField(b, 3, m.Error); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (m *DeviceAuthMessage) consume(b []byte) error {
	const kind = "DeviceAuthMessage"
	*m = DeviceAuthMessage{}
	return walk(kind, b, func(f field) error {
		switch f.num {
		case 1, 2, 3:
			if err := expect(kind, f, protowire.BytesType); err != nil {
				return err
			}
		}
		switch f.num {
		case 1:
			m.Challenge = &AuthChallenge{}
			return m.Challenge.consume(f.bytes)
		case 2:
			m.Response = &AuthResponse{}
			return m.Response.consume(f.bytes)
		case 3:
			m.Error = &AuthError{}
			return m.Error.consume(f.bytes)
		}
		return nil
	})
}

func appendMessageField(b []byte, num protowire.Number, m Message) ([]byte, error) {
	inner, err := m.appendTo(nil)
	if err != nil {
		return nil, err
	}
	return appendBytesField(b, num, inner), nil
}
