// Package promutil holds Prometheus registration helpers shared by the
// runtime components.
package promutil

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Register registers c with r. When an identical collector is already
// registered, the existing one is returned so several components built
// against the same registerer share series instead of failing.
func Register[T prometheus.Collector](r prometheus.Registerer, c T) (T, error) {
	if r == nil {
		r = prometheus.DefaultRegisterer
	}
	if err := r.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
