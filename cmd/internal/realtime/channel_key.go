package realtime

import (
	"errors"
	"fmt"
	"strings"

	"tearoom/cmd/identity"
	"tearoom/cmd/internal/auth/session"
)

// Scope partitions a tenant's channels.
type Scope uint8

const (
	ScopeTenant Scope = iota + 1
	ScopeRoom
	ScopeKitchen
)

func (s Scope) String() string {
	switch s {
	case ScopeTenant:
		return "tenant"
	case ScopeRoom:
		return "room"
	case ScopeKitchen:
		return "kitchen"
	default:
		return "unknown"
	}
}

// ParseScope maps the wire scope name.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tenant", "tenant-wide", "":
		return ScopeTenant, nil
	case "room":
		return ScopeRoom, nil
	case "kitchen":
		return ScopeKitchen, nil
	default:
		return 0, fmt.Errorf("%w: unknown scope %q", ErrInvalidChannel, s)
	}
}

// ChannelKey identifies a broadcast group. It is comparable and used as a map key.
type ChannelKey struct {
	TenantID string
	Scope    Scope
	// ID is the room or kitchen id; empty for the tenant-wide channel.
	ID string
}

// TenantChannel returns the tenant-wide channel key.
func TenantChannel(tenantID string) ChannelKey {
	return ChannelKey{TenantID: tenantID, Scope: ScopeTenant}
}

// RoomChannel returns the channel of one meeting room.
func RoomChannel(tenantID, roomID string) ChannelKey {
	return ChannelKey{TenantID: tenantID, Scope: ScopeRoom, ID: roomID}
}

// KitchenChannel returns the channel of one kitchen console.
func KitchenChannel(tenantID, kitchenID string) ChannelKey {
	return ChannelKey{TenantID: tenantID, Scope: ScopeKitchen, ID: kitchenID}
}

// Validate checks the key shape.
func (k ChannelKey) Validate() error {
	if strings.TrimSpace(k.TenantID) == "" || strings.Contains(k.TenantID, ":") {
		return fmt.Errorf("%w: tenant id required", ErrInvalidChannel)
	}
	switch k.Scope {
	case ScopeTenant:
		if k.ID != "" {
			return fmt.Errorf("%w: tenant channel takes no id", ErrInvalidChannel)
		}
	case ScopeRoom, ScopeKitchen:
		if strings.TrimSpace(k.ID) == "" || strings.Contains(k.ID, ":") {
			return fmt.Errorf("%w: %s id required", ErrInvalidChannel, k.Scope)
		}
	default:
		return fmt.Errorf("%w: unknown scope", ErrInvalidChannel)
	}
	return nil
}

// String renders tenant:<tid>, tenant:<tid>:room:<rid> or tenant:<tid>:kitchen:<kid>.
func (k ChannelKey) String() string {
	if k.Scope == ScopeTenant {
		return "tenant:" + k.TenantID
	}
	return "tenant:" + k.TenantID + ":" + k.Scope.String() + ":" + k.ID
}

// ParseChannelKey is the inverse of String.
func ParseChannelKey(s string) (ChannelKey, error) {
	parts := strings.Split(s, ":")
	var k ChannelKey
	switch {
	case len(parts) == 2 && parts[0] == "tenant":
		k = TenantChannel(parts[1])
	case len(parts) == 4 && parts[0] == "tenant" && parts[2] == "room":
		k = RoomChannel(parts[1], parts[3])
	case len(parts) == 4 && parts[0] == "tenant" && parts[2] == "kitchen":
		k = KitchenChannel(parts[1], parts[3])
	default:
		return ChannelKey{}, fmt.Errorf("%w: %q", ErrInvalidChannel, s)
	}
	if err := k.Validate(); err != nil {
		return ChannelKey{}, err
	}
	return k, nil
}

// ErrInvalidChannel is returned for malformed channel keys.
var ErrInvalidChannel = errors.New("invalid channel")

// ErrForbidden is returned when a principal may not join a channel.
var ErrForbidden = errors.New("channel not allowed")

// CanJoin reports whether sub may subscribe to key.
//
//   - super admins may join any channel
//   - tenant admins may join any channel of their tenant
//   - room users may join the tenant-wide channel and their own room
//     (any room when they are not bound to one)
//   - kitchens may join the tenant-wide channel and their own kitchen
func CanJoin(sub session.Subject, key ChannelKey) bool {
	if sub.Role == identity.RoleSuperAdmin {
		return true
	}
	if sub.TenantID == "" || key.TenantID != sub.TenantID {
		return false
	}
	switch sub.Role {
	case identity.RoleTenantAdmin:
		return true
	case identity.RoleRoomUser:
		switch key.Scope {
		case ScopeTenant:
			return true
		case ScopeRoom:
			return sub.RoomID == "" || sub.RoomID == key.ID
		}
	case identity.RoleKitchen:
		switch key.Scope {
		case ScopeTenant:
			return true
		case ScopeKitchen:
			return sub.KitchenID != "" && sub.KitchenID == key.ID
		}
	}
	return false
}
