package detect

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"media-annotator/internal/media"
)

const namesQueryTimeout = 2 * time.Minute

type namesFile struct {
	Names yaml.Node `yaml:"names"`
}

// LoadNames reads class names from a dataset YAML file. Both the list form
// and the id-to-name mapping form of the "names" key are accepted. An empty
// path yields no names, so every class renders as unknown.
func LoadNames(path string) (map[int]string, error) {
	if path == "" {
		return map[int]string{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseNames(data)
}

func parseNames(data []byte) (map[int]string, error) {
	var file namesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse names: %w", err)
	}

	out := make(map[int]string)
	switch file.Names.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := file.Names.Decode(&list); err != nil {
			return nil, fmt.Errorf("parse names list: %w", err)
		}
		for i, name := range list {
			out[i] = name
		}
	case yaml.MappingNode:
		if err := file.Names.Decode(&out); err != nil {
			return nil, fmt.Errorf("parse names map: %w", err)
		}
	default:
		return nil, errors.New("names key is missing")
	}
	return out, nil
}

// resolveNamesPath prefers an explicit path, then a YAML file next to the
// model sharing its stem, then data.yaml in the model directory.
func resolveNamesPath(modelPath, explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}

	dir := filepath.Dir(modelPath)
	stem := strings.TrimSuffix(filepath.Base(modelPath), filepath.Ext(modelPath))
	for _, candidate := range []string{
		filepath.Join(dir, stem+".yaml"),
		filepath.Join(dir, stem+".yml"),
		filepath.Join(dir, "data.yaml"),
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// modelNames resolves the class names of a model: a dataset YAML wins, then
// the names stored in the model itself, then the COCO list for the stock
// pretrained checkpoints. Anything else gets an empty map.
func modelNames(ctx context.Context, opts Options, modelPath string) (map[int]string, error) {
	if path := resolveNamesPath(modelPath, opts.NamesPath); path != "" {
		return LoadNames(path)
	}

	var (
		names map[int]string
		err   error
	)
	switch strings.ToLower(filepath.Ext(modelPath)) {
	case ".onnx":
		names, err = readONNXNames(modelPath)
	case ".pt":
		names, err = queryCheckpointNames(ctx, opts.runner(), pythonFor(opts.YoloPath), modelPath)
	}
	if err == nil && len(names) > 0 {
		return names, nil
	}
	if err != nil {
		slog.Debug("model carries no readable class names", "model", modelPath, "err", err)
	}

	if IsPretrainedCOCO(modelPath) {
		return cocoNames(), nil
	}
	return map[int]string{}, nil
}

var pretrainedPattern = regexp.MustCompile(`^yolo(v5|v8|v9|v10|11|12)[nsmlxtc]u?\.(pt|onnx)$`)

// IsPretrainedCOCO reports whether path names a stock ultralytics
// checkpoint trained on COCO, such as yolov8n.pt or yolo11s.onnx.
func IsPretrainedCOCO(path string) bool {
	return pretrainedPattern.MatchString(strings.ToLower(filepath.Base(path)))
}

// onnxNamesKey is the protobuf encoding of a metadata_props key "names":
// field 1, length 5, then field 2 (the value) follows.
var onnxNamesKey = []byte("\x0a\x05names\x12")

var namesEntryPattern = regexp.MustCompile(`(\d+)\s*:\s*(?:'((?:[^'\\]|\\.)*)'|"((?:[^"\\]|\\.)*)")`)

// readONNXNames extracts the names dict ultralytics stores in the metadata
// of its ONNX exports, e.g. {0: 'tank', 1: 'truck'}.
func readONNXNames(path string) (map[int]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	idx := bytes.LastIndex(data, onnxNamesKey)
	if idx < 0 {
		return nil, errors.New("no names metadata")
	}
	rest := data[idx+len(onnxNamesKey):]
	n, width := binary.Uvarint(rest)
	if width <= 0 || uint64(len(rest)-width) < n {
		return nil, errors.New("truncated names metadata")
	}
	return parseNamesDict(string(rest[width : width+int(n)]))
}

func parseNamesDict(raw string) (map[int]string, error) {
	out := make(map[int]string)
	for _, m := range namesEntryPattern.FindAllStringSubmatch(raw, -1) {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		name := m[2]
		if name == "" {
			name = m[3]
		}
		out[id] = name
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no class names in %q", raw)
	}
	return out, nil
}

const namesScript = `import json, sys
from ultralytics import YOLO
print(json.dumps({int(k): v for k, v in YOLO(sys.argv[1]).names.items()}))`

// queryCheckpointNames asks ultralytics for the names stored in a .pt
// checkpoint.
func queryCheckpointNames(ctx context.Context, runner media.Runner, python, modelPath string) (map[int]string, error) {
	ctx, cancel := context.WithTimeout(ctx, namesQueryTimeout)
	defer cancel()

	log, err := runner.Run(ctx, python, "-c", namesScript, modelPath)
	if err != nil {
		return nil, &media.CommandError{Message: "read checkpoint class names", Log: log, Err: err}
	}
	var raw map[string]string
	if err := json.Unmarshal([]byte(lastLine(log.Stdout)), &raw); err != nil {
		return nil, fmt.Errorf("parse checkpoint class names: %w", err)
	}
	out := make(map[int]string, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("class id %q: %w", k, err)
		}
		out[id] = v
	}
	return out, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// pythonFor prefers the interpreter installed beside the yolo script, as
// pipx and virtualenvs lay them out.
func pythonFor(yoloPath string) string {
	if dir := filepath.Dir(yoloPath); yoloPath != "" && dir != "." {
		for _, name := range []string{"python", "python3", "python.exe"} {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	if runtime.GOOS == "windows" {
		return "python"
	}
	return "python3"
}

var cocoClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog",
	"horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella",
	"handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite",
	"baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket", "bottle",
	"wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch", "potted plant",
	"bed", "dining table", "toilet", "tv", "laptop", "mouse", "remote", "keyboard", "cell phone",
	"microwave", "oven", "toaster", "sink", "refrigerator", "book", "clock", "vase", "scissors",
	"teddy bear", "hair drier", "toothbrush",
}

func cocoNames() map[int]string {
	out := make(map[int]string, len(cocoClasses))
	for i, name := range cocoClasses {
		out[i] = name
	}
	return out
}
