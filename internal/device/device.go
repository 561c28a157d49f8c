package device

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/Agrid-Dev/thermobrew/internal/fermenter"
)

// Device ties the device identity to its live settings.
type Device struct {
	ID string
	// Derived is set when ID was computed from the hostname.
	Derived bool
	Store   *fermenter.Store
}

// New returns a device with the given id. An empty id is replaced by a
// name-based UUID of the hostname, so it is stable across restarts.
func New(id string, store *fermenter.Store) (*Device, error) {
	return newWithHost(id, store, os.Hostname)
}

func newWithHost(id string, store *fermenter.Store, hostname func() (string, error)) (*Device, error) {
	if id != "" {
		return &Device{ID: id, Store: store}, nil
	}
	host, err := hostname()
	if err != nil {
		return nil, fmt.Errorf("derive device id: %w", err)
	}
	return &Device{ID: DeriveID(host), Derived: true, Store: store}, nil
}

func DeriveID(host string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(host)).String()
}
