package operation

import (
	"fmt"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Message Registry
// --------------------------------------------------------------------------

// Factory creates a new, empty message of one kind. The message is decoded into.
type Factory func() Message

// Registry maps wire kinds to message factories
type Registry struct {
	factories *xsync.MapOf[Kind, Factory]
}

// NewRegistry creates a registry that already knows the Ack message
func NewRegistry() *Registry {
	r := &Registry{factories: xsync.NewMapOf[Kind, Factory]()}
	r.MustRegister(func() Message { return &Ack{} })
	return r
}

// Register adds a factory. The kind is taken from the message the factory creates.
func (r *Registry) Register(f Factory) error {
	kind := f().Kind()
	if _, loaded := r.factories.LoadOrStore(kind, f); loaded {
		return fmt.Errorf("message kind %d is already registered", kind)
	}
	return nil
}

// MustRegister is like Register but panics on duplicate kinds
func (r *Registry) MustRegister(factories ...Factory) {
	for _, f := range factories {
		if err := r.Register(f); err != nil {
			panic(err)
		}
	}
}

// New creates an empty message of the given kind
func (r *Registry) New(kind Kind) (Message, error) {
	f, ok := r.factories.Load(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	return f(), nil
}

// --------------------------------------------------------------------------
// Service Registry
// --------------------------------------------------------------------------

// Services holds the local service instances messages run against
type Services struct {
	services *xsync.MapOf[ServiceID, any]
}

// NewServices creates an empty service registry
func NewServices() *Services {
	return &Services{services: xsync.NewMapOf[ServiceID, any]()}
}

// Register sets the instance of a service
func (s *Services) Register(id ServiceID, svc any) {
	s.services.Store(id, svc)
}

// Get returns the instance of a service
func (s *Services) Get(id ServiceID) (any, error) {
	svc, ok := s.services.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoService, id)
	}
	return svc, nil
}
