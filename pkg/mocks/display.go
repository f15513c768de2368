package mocks

import (
	"github.com/user/detectshow/pkg/ports"
)

// Display wraps a ports.Display and records every call in Log.
type Display struct {
	Inner ports.Display
	Log   *CallLog

	// Fail makes the named call return the error without delegating.
	Fail map[string]error
}

func (d *Display) call(name string) error {
	d.Log.Add("display." + name)
	return d.Fail[name]
}

func (d *Display) Initialize() error {
	if err := d.call("Initialize"); err != nil {
		return err
	}
	return d.Inner.Initialize()
}

func (d *Display) CreateContext() (ports.RenderContext, error) {
	if err := d.call("CreateContext"); err != nil {
		return nil, err
	}
	return d.Inner.CreateContext()
}

func (d *Display) CreateWindowSurface(target ports.InputSurface) (ports.Surface, error) {
	if err := d.call("CreateWindowSurface"); err != nil {
		return nil, err
	}
	return d.Inner.CreateWindowSurface(target)
}

func (d *Display) MakeCurrent(s ports.Surface, c ports.RenderContext) error {
	if err := d.call("MakeCurrent"); err != nil {
		return err
	}
	return d.Inner.MakeCurrent(s, c)
}

func (d *Display) ReleaseCurrent() error {
	if err := d.call("ReleaseCurrent"); err != nil {
		return err
	}
	return d.Inner.ReleaseCurrent()
}

func (d *Display) DestroySurface(s ports.Surface) error {
	if err := d.call("DestroySurface"); err != nil {
		return err
	}
	return d.Inner.DestroySurface(s)
}

func (d *Display) DestroyContext(c ports.RenderContext) error {
	if err := d.call("DestroyContext"); err != nil {
		return err
	}
	return d.Inner.DestroyContext(c)
}

func (d *Display) SetPresentationTime(s ports.Surface, ns int64) error {
	if err := d.call("SetPresentationTime"); err != nil {
		return err
	}
	return d.Inner.SetPresentationTime(s, ns)
}

func (d *Display) SwapBuffers(s ports.Surface) error {
	if err := d.call("SwapBuffers"); err != nil {
		return err
	}
	return d.Inner.SwapBuffers(s)
}

func (d *Display) Terminate() error {
	if err := d.call("Terminate"); err != nil {
		return err
	}
	return d.Inner.Terminate()
}

var _ ports.Display = (*Display)(nil)
