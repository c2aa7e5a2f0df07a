package overlay

import (
	"fmt"
	"image"
	"sync"

	"github.com/bryanchriswhite/ColorChecker/internal/logger"
)

// Manager holds overlay widgets and renders them in insertion order
type Manager struct {
	widgets []Widget
	mu      sync.RWMutex
	enabled bool
}

// NewManager creates a new overlay manager
func NewManager() *Manager {
	return &Manager{enabled: true}
}

// NewDefaultManager returns a manager with the marker outline, the
// reference/average swatches and a status line.
func NewDefaultManager() *Manager {
	m := NewManager()
	_ = m.AddWidget(NewMarkerWidget("marker"))
	_ = m.AddWidget(NewSwatchWidget("swatch", 8, 8, 16))
	_ = m.AddWidget(NewTextWidget("status", 44, 4, StatusText))
	return m
}

// StatusText formats the verdict and the measured color.
func StatusText(st State) string {
	verdict := "OUT"
	if st.Within {
		verdict = "OK"
	}
	return fmt.Sprintf("%s avg %s ref %s tol %d", verdict, st.Average.Hex(), st.Reference.Hex(), st.Tolerance)
}

// AddWidget adds a widget to the overlay
func (m *Manager) AddWidget(widget Widget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.widgets {
		if w.ID() == widget.ID() {
			return fmt.Errorf("widget with ID %s already exists", widget.ID())
		}
	}

	m.widgets = append(m.widgets, widget)
	logger.WithComponent("overlay").Debug().
		Str("id", widget.ID()).
		Str("type", widget.Type()).
		Msg("Added widget")
	return nil
}

// RemoveWidget removes a widget from the overlay
func (m *Manager) RemoveWidget(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, w := range m.widgets {
		if w.ID() == id {
			m.widgets = append(m.widgets[:i], m.widgets[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("widget with ID %s not found", id)
}

// GetWidget retrieves a widget by ID
func (m *Manager) GetWidget(id string) (Widget, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.widgets {
		if w.ID() == id {
			return w, true
		}
	}
	return nil, false
}

// SetEnabled enables or disables the entire overlay
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

// IsEnabled returns whether the overlay is enabled
func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Render renders all enabled widgets onto img
func (m *Manager) Render(img *image.RGBA, st State) error {
	if !m.IsEnabled() {
		return nil
	}

	m.mu.RLock()
	widgets := append([]Widget(nil), m.widgets...)
	m.mu.RUnlock()

	for _, widget := range widgets {
		if !widget.IsEnabled() {
			continue
		}
		if err := widget.Render(img, st); err != nil {
			logger.WithComponent("overlay").Warn().Err(err).
				Str("id", widget.ID()).
				Msg("Failed to render widget")
		}
	}
	return nil
}
