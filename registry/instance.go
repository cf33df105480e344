package registry

import (
	"maps"
	"net"
	"strconv"
	"time"

	"github.com/kbukum/meshkit/validation"
)

// Status is the advertised availability of an instance.
type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

// Valid reports whether s is UP or DOWN.
func (s Status) Valid() bool { return s == StatusUp || s == StatusDown }

// Instance is one registered process of a service.
type Instance struct {
	ServiceName   string            `json:"service" validate:"required,max=128"`
	InstanceID    string            `json:"instance_id" validate:"required,max=128"`
	Host          string            `json:"host" validate:"required"`
	Port          int               `json:"port" validate:"min=1,max=65535"`
	Status        Status            `json:"status" validate:"omitempty,oneof=UP DOWN"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	RegisteredAt  time.Time         `json:"registered_at"`
	LastRenewedAt time.Time         `json:"last_renewed_at"`
}

// Addr returns host:port.
func (i Instance) Addr() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}

// Key returns service/instanceId.
func (i Instance) Key() string {
	return i.ServiceName + "/" + i.InstanceID
}

// Validate checks the fields a registration must carry.
func (i Instance) Validate() error {
	return validation.Validate(i)
}

func (i Instance) clone() Instance {
	i.Metadata = maps.Clone(i.Metadata)
	return i
}

// sameEndpoint reports whether a re-registration changes anything a
// consumer can observe.
func (i Instance) sameEndpoint(o Instance) bool {
	return i.Host == o.Host && i.Port == o.Port && i.Status == o.Status && maps.Equal(i.Metadata, o.Metadata)
}
