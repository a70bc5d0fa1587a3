package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/stagecraft/diag"
)

const (
	codeEmptyLayer        diag.Code = "empty_layer"
	codeDuplicatePrimPath diag.Code = "duplicate_prim_path"
	codeUnboundShaderOut  diag.Code = "unbound_shader_output"
	codeInvalidPrimName   diag.Code = "invalid_prim_name"
)

const layersPerValidationRun = 8

// Layer is a toy stand-in for a scene-description layer.
type Layer struct {
	Name      string
	PrimPaths []string
	Unbound   []string // shader outputs referenced but never connected
}

// Validator periodically validates a batch of randomly generated layers.
// Each layer is checked on its own worker goroutine under a fresh mark;
// the workers ship their findings back to the batch goroutine with
// transports, so everything surfaces under the batch mark. Errors the
// batch can tolerate are cleared; the rest propagate to the sink when the
// batch mark ends.
type Validator struct {
	done       chan bool
	numWorkers int
	shutdown   chan bool
}

func NewValidator(numWorkers int) *Validator {
	return &Validator{
		done:       make(chan bool, 1),
		numWorkers: numWorkers,
		shutdown:   make(chan bool, 1),
	}
}

func (v *Validator) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)

	for {
		select {
		case <-ticker.C:
			v.validateBatch(ctx)

		case <-v.shutdown:
			v.done <- true
			return
		}
	}
}

func (v *Validator) Shutdown(ctx context.Context) error {
	v.shutdown <- true

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-v.done:
			return nil
		}
	}
}

func (v *Validator) validateBatch(ctx context.Context) {
	ctx, scope := diag.WithScope(ctx)
	defer scope.Close()

	mark, ctx := diag.SetMark(ctx)
	defer mark.End()

	layers := randomLayers(layersPerValidationRun)

	var wg sync.WaitGroup
	workers := make(chan struct{}, v.numWorkers)
	transports := make(chan *diag.Transport, len(layers))

	for _, layer := range layers {
		workers <- struct{}{}

		wg.Add(1)
		go func() {
			defer func() {
				<-workers
				wg.Done()
			}()

			transports <- validateLayer(ctx, layer)
		}()
	}

	wg.Wait()
	close(transports)

	for t := range transports {
		t.Submit(ctx)
	}

	if mark.IsClean() {
		slog.Info("batch validated clean", "layers", len(layers))
		return
	}

	// Empty layers are tolerable; handle them here and let the rest
	// propagate to the sink when the mark ends.
	empty := 0
	serious := 0
	for rec := range mark.Errors() {
		if rec.Code == codeEmptyLayer {
			empty++
		} else {
			serious++
		}
	}

	if serious == 0 {
		slog.Info("batch validated with empty layers only", "layers", len(layers), "empty", empty)
		mark.Clear()
		return
	}

	slog.Info("batch validated with errors", "layers", len(layers), "errors", mark.Count())
}

// validateLayer runs on a worker goroutine: it opens its own scope and
// mark, posts what it finds, and hands the window back as a transport.
func validateLayer(ctx context.Context, layer Layer) *diag.Transport {
	ctx, scope := diag.WithScope(ctx)
	defer scope.Close()

	mark, ctx := diag.SetMark(ctx)
	defer mark.End()

	if len(layer.PrimPaths) == 0 {
		diag.Postf(ctx, codeEmptyLayer, "layer %q has no prims", layer.Name)
	}

	seen := map[string]struct{}{}
	for _, path := range layer.PrimPaths {
		if _, ok := seen[path]; ok {
			diag.Post(ctx, codeDuplicatePrimPath, fmt.Sprintf("layer %q declares %s twice", layer.Name, path), diag.WithPayload(path))
		}
		seen[path] = struct{}{}

		name := path[strings.LastIndex(path, "/")+1:]
		if strings.ContainsAny(name, " -.") {
			diag.Postf(ctx, codeInvalidPrimName, "prim name %q in layer %q is not an identifier", name, layer.Name)
		}
	}

	for _, output := range layer.Unbound {
		diag.Post(ctx, codeUnboundShaderOut, fmt.Sprintf("layer %q references unbound output %s", layer.Name, output), diag.WithPayload(output))
	}

	return diag.NewTransport(mark)
}

func randomLayers(n int) []Layer {
	layers := make([]Layer, 0, n)
	for i := range n {
		layer := Layer{Name: fmt.Sprintf("layer_%03d", i)}

		switch rand.IntN(5) {
		case 0:
			// empty layer

		case 1:
			layer.PrimPaths = []string{"/world/geo/sphere", "/world/geo/sphere"}

		case 2:
			layer.PrimPaths = []string{"/world/geo/bad name"}

		case 3:
			layer.PrimPaths = []string{"/world/mtl/brass"}
			layer.Unbound = []string{"outputs:surface"}

		default:
			layer.PrimPaths = []string{"/world/geo/cube", "/world/geo/cone"}
		}

		layers = append(layers, layer)
	}

	return layers
}
