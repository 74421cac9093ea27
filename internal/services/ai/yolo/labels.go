package yolo

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"garia/internal/models"
)

// COCOLabels are the 80 COCO class names in YOLO class id order.
var COCOLabels = []string{
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

// LoadLabels reads a .names file: one class name per line, blank lines ignored.
// An empty path yields COCOLabels.
func LoadLabels(path string) ([]string, error) {
	if path == "" {
		return COCOLabels, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open labels")
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			labels = append(labels, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read labels")
	}
	if len(labels) == 0 {
		return nil, errors.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}

// Label returns the name of class id, or class_<id> when labels has none.
func Label(labels []string, id int) string {
	if id >= 0 && id < len(labels) {
		return labels[id]
	}
	return "class_" + strconv.Itoa(id)
}

// ResolveModelPath locates the weights of id. An explicit path wins; otherwise
// dir/<name> is used when it exists and the bare name as a fallback.
func ResolveModelPath(dir string, id models.ModelIdentifier) string {
	if id.Path != "" {
		return id.Path
	}
	local := filepath.Join(dir, id.Name)
	if _, err := os.Stat(local); err == nil {
		return local
	}
	return id.Name
}
