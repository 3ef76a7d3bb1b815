package device

import (
	"context"
	"fmt"

	"github.com/ardnew/softuac/pkg"
)

// handleStandard processes the standard requests the stack answers itself.
// Descriptor requests are left to the controller.
func (s *Stack) handleStandard(ctx context.Context, setup *SetupPacket) ([]byte, error) {
	switch setup.Request {
	case RequestGetStatus:
		clear(s.response[:2])
		return s.response[:2], nil

	case RequestClearFeature, RequestSetFeature:
		// Endpoint halt has no effect on isochronous endpoints.
		return nil, nil

	case RequestSetAddress:
		if setup.Recipient() != RequestRecipientDevice || setup.Value > 0x7F {
			return nil, pkg.ErrInvalidRequest
		}
		s.mutex.Lock()
		s.address = uint8(setup.Value)
		s.mutex.Unlock()
		return nil, nil

	case RequestGetConfiguration:
		s.response[0] = s.Configuration()
		return s.response[:1], nil

	case RequestSetConfiguration:
		return nil, s.setConfiguration(ctx, uint8(setup.Value))

	case RequestGetInterface:
		iface := setup.InterfaceNumber()
		if s.driver(iface) == nil {
			return nil, fmt.Errorf("interface %d: %w", iface, pkg.ErrInvalidRequest)
		}
		s.response[0] = s.Alternate(iface)
		return s.response[:1], nil

	case RequestSetInterface:
		return nil, s.setInterface(ctx, setup.InterfaceNumber(), uint8(setup.Value))

	default:
		return nil, fmt.Errorf("standard request %#02x: %w", setup.Request, pkg.ErrInvalidRequest)
	}
}

// setConfiguration selects a configuration. Selecting configuration 0
// resets every class driver.
func (s *Stack) setConfiguration(ctx context.Context, config uint8) error {
	s.mutex.Lock()
	previous := s.configuration
	s.configuration = config
	clear(s.alternates)
	s.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentStack, "configuration selected",
		"configuration", config,
		"previous", previous)
	if config == 0 && previous != 0 {
		return s.resetDrivers(ctx)
	}
	return nil
}

// setInterface forwards an alternate setting to the owning driver.
func (s *Stack) setInterface(ctx context.Context, iface, alt uint8) error {
	driver := s.driver(iface)
	if driver == nil {
		return fmt.Errorf("interface %d: %w", iface, pkg.ErrInvalidRequest)
	}
	if err := driver.SetAlternate(ctx, iface, alt); err != nil {
		return fmt.Errorf("interface %d alternate %d: %w", iface, alt, err)
	}

	s.mutex.Lock()
	s.alternates[iface] = alt
	s.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentStack, "alternate setting selected",
		"interface", iface,
		"alternate", alt)
	return nil
}
