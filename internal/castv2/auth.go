package castv2

import (
	"context"
	"fmt"

	"castnote/internal/castchannel"
)

// Authenticate sends a device-auth challenge and waits for the receiver's
// reply. Frames on other namespaces are skipped. It fails with
// ErrAuthRejected if the receiver replies with an AuthError and with
// ErrTransport if the connection ends first. The response signature is not
// verified against a CA bundle.
func Authenticate(ctx context.Context, ch *Channel) error {
	challenge, err := (&castchannel.DeviceAuthMessage{Challenge: &castchannel.AuthChallenge{}}).Marshal()
	if err != nil {
		return err
	}
	if err := ch.SendBinary(receiverID, NamespaceDeviceAuth, challenge); err != nil {
		return err
	}

	for {
		m, err := ch.Receive(ctx)
		if err != nil {
			return err
		}
		if *m.Namespace != NamespaceDeviceAuth {
			continue
		}

		var reply castchannel.DeviceAuthMessage
		if err := reply.Unmarshal(m.PayloadBinary); err != nil {
			return err
		}
		switch {
		case reply.Error != nil:
			return fmt.Errorf("%w: %s", ErrAuthRejected, *reply.Error.ErrorType)
		case reply.Response == nil:
			return fmt.Errorf("%w: reply carries no response", ErrAuthRejected)
		}
		return nil
	}
}
