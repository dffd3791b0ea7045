package inference

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// ErrModelLoad is returned when a network cannot be read.
var ErrModelLoad = errors.New("failed to load model")

// Outputs maps output layer names to their blobs.
type Outputs map[string]Tensor

// Engine evaluates one model on a prepared input blob.
type Engine interface {
	Run(input gocv.Mat) (Outputs, error)
	Close() error
}

// ModelConfig describes a network on disk.
type ModelConfig struct {
	// Model is the weights file (ONNX, Caffe, TensorFlow, Darknet, ...).
	Model string
	// Config is the optional network description file.
	Config string
	// Input is the input layer name; empty selects the default.
	Input string
	// Outputs lists the layers to fetch; empty fetches the unconnected outputs.
	Outputs []string
	// Target is "cpu", "opencl" or "cuda".
	Target string
}

// Net is an Engine backed by gocv.Net. Runs are serialized because a Net is not reentrant.
type Net struct {
	mu      sync.Mutex
	net     gocv.Net
	input   string
	outputs []string
}

// Load reads a network from disk.
func Load(cfg ModelConfig) (*Net, error) {
	for _, path := range []string{cfg.Model, cfg.Config} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
		}
	}

	net := gocv.ReadNet(cfg.Model, cfg.Config)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("%w: %s", ErrModelLoad, cfg.Model)
	}

	switch strings.ToLower(cfg.Target) {
	case "cuda":
		net.SetPreferableBackend(gocv.NetBackendCUDA)
		net.SetPreferableTarget(gocv.NetTargetCUDA)
	case "opencl":
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetFP32)
	default:
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
	}

	outputs := cfg.Outputs
	if len(outputs) == 0 {
		outputs = unconnectedOutputs(&net)
	}

	return &Net{
		net:     net,
		input:   cfg.Input,
		outputs: append([]string(nil), outputs...),
	}, nil
}

// Run feeds input and returns a copy of every configured output.
func (n *Net) Run(input gocv.Mat) (Outputs, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.net.SetInput(input, n.input)
	blobs := n.net.ForwardLayers(n.outputs)
	defer func() {
		for i := range blobs {
			blobs[i].Close()
		}
	}()

	if len(blobs) != len(n.outputs) {
		return nil, fmt.Errorf("forward returned %d blobs for %d outputs", len(blobs), len(n.outputs))
	}

	out := make(Outputs, len(blobs))
	for i, name := range n.outputs {
		t, err := TensorFromMat(blobs[i])
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}

// OutputNames returns the layers fetched by Run.
func (n *Net) OutputNames() []string {
	return append([]string(nil), n.outputs...)
}

// Close releases the network.
func (n *Net) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.net.Close()
}

func unconnectedOutputs(net *gocv.Net) []string {
	var names []string
	for _, id := range net.GetUnconnectedOutLayers() {
		layer := net.GetLayer(id)
		names = append(names, layer.GetName())
		layer.Close()
	}
	return names
}
