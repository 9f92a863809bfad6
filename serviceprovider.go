package qdisc

import "reflect"

// ServiceProvider resolves per-invocation dependencies a payload may
// need without the scheduler core knowing anything about them. It is
// deliberately minimal: registration (singleton vs. transient lifetime)
// is entirely the caller's concern, decided once at builder time and
// opaque to everything downstream.
type ServiceProvider interface {
	// TryGet resolves a value for the given reflect.Type, returning
	// (value, true) on a hit, or (nil, false) if nothing is registered
	// for that type.
	TryGet(t reflect.Type) (any, bool)
}

// GetRequired resolves T from sp, panicking (mirroring the source
// design's GetRequiredService, which is itself documented as a
// programmer-error signal, not a recoverable condition) if nothing is
// registered.
func GetRequired[T any](sp ServiceProvider) T {
	v, ok := TryGet[T](sp)
	if !ok {
		var zero T
		panic("qdisc: no service registered for " + reflect.TypeOf(zero).String())
	}
	return v
}

// TryGet resolves T from sp, returning the zero value and false if
// nothing is registered, or if sp is nil.
func TryGet[T any](sp ServiceProvider) (T, bool) {
	var zero T
	if sp == nil {
		return zero, false
	}
	t := reflect.TypeOf(zero)
	v, ok := sp.TryGet(t)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// staticServiceProvider is a fixed map-backed ServiceProvider: every
// registration it holds is effectively a singleton for the lifetime of
// the provider value itself. Transient lifetimes are obtained by
// registering a factory function as the value and having the caller
// invoke it, which this package takes no further part in.
type staticServiceProvider struct {
	values map[reflect.Type]any
}

// NewServiceProvider builds a ServiceProvider from a set of concrete
// values, keyed by their dynamic type. Passing the same Go type twice
// keeps only the last value.
func NewServiceProvider(values ...any) ServiceProvider {
	sp := &staticServiceProvider{values: make(map[reflect.Type]any, len(values))}
	for _, v := range values {
		sp.values[reflect.TypeOf(v)] = v
	}
	return sp
}

func (sp *staticServiceProvider) TryGet(t reflect.Type) (any, bool) {
	v, ok := sp.values[t]
	return v, ok
}
