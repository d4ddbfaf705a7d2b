// Command dieselvk opens a window and draws a spinning triangle through
// dieselrhi. The swapchain is rebuilt whenever the window is resized.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/andewx/dieselrhi"
	"github.com/andewx/dieselrhi/hal/vulkan"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/pkg/errors"
)

const (
	windowWidth  = 800
	windowHeight = 600
)

func init() {
	// glfw and the presentation engine want the main thread.
	runtime.LockOSThread()
}

func main() {
	usagePath := flag.String("usage", "", "TOML usage file; defaults are used when empty")
	validation := flag.Bool("validation", false, "enable the Khronos validation layer")
	flag.Parse()

	if err := run(*usagePath, *validation); err != nil {
		fmt.Fprintf(os.Stderr, "dieselvk: %+v\n", err)
		os.Exit(1)
	}
}

func run(usagePath string, validation bool) error {
	usage := dieselrhi.DefaultUsage()
	if usagePath != "" {
		var err error
		if usage, err = dieselrhi.LoadUsage(usagePath); err != nil {
			return err
		}
	}
	log, closer, err := dieselrhi.NewLogger(usage.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	dieselrhi.SetLogger(log)

	if err := glfw.Init(); err != nil {
		return errors.Wrap(err, "glfw init")
	}
	defer glfw.Terminate()
	if err := vulkan.Init(); err != nil {
		return err
	}

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	win, err := glfw.CreateWindow(windowWidth, windowHeight, usage.Name, nil, nil)
	if err != nil {
		return errors.Wrap(err, "create window")
	}
	defer win.Destroy()

	inst, err := vulkan.NewInstance(vulkan.Config{
		AppName:    usage.Name,
		Validation: validation,
		Window:     win,
		Logger:     log,
	})
	if err != nil {
		return err
	}
	// Usage.Headless would leave the window without a swapchain.
	usage.Headless = false
	core := dieselrhi.NewCore(inst, usage)
	defer core.Destroy()

	dev, err := core.CreateDevice()
	if err != nil {
		return err
	}
	app, err := newTriangle(dev, win, usage.FramesInFlight)
	if err != nil {
		return err
	}
	defer app.Destroy()

	log.Info("dieselvk: running", "adapter", dev.Info().Name, "frames_in_flight", usage.FramesInFlight)
	for !win.ShouldClose() {
		if app.display.Minimized() {
			glfw.WaitEvents()
			continue
		}
		glfw.PollEvents()
		if err := app.Frame(); err != nil {
			return err
		}
	}
	return dev.WaitIdle()
}
