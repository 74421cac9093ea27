package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T { return &v }

func TestModelConfigurationIsValid(t *testing.T) {
	tests := []struct {
		name     string
		cfg      ModelConfiguration
		expected bool
	}{
		{"defaults", DefaultModelConfiguration(ModelIdentifier{Name: "GarIA.onnx"}), true},
		{"typical", ModelConfiguration{ConfidenceThreshold: 0.3, IoUThreshold: 0.4, MaxDetections: 10}, true},
		{"bounds inclusive", ModelConfiguration{ConfidenceThreshold: 1, IoUThreshold: 0, MaxDetections: 1}, true},
		{"confidence above one", ModelConfiguration{ConfidenceThreshold: 1.5, IoUThreshold: 0.45, MaxDetections: 1000}, false},
		{"negative confidence", ModelConfiguration{ConfidenceThreshold: -0.1, IoUThreshold: 0.45, MaxDetections: 1000}, false},
		{"iou above one", ModelConfiguration{ConfidenceThreshold: 0.25, IoUThreshold: 1.01, MaxDetections: 1000}, false},
		{"zero max detections", ModelConfiguration{ConfidenceThreshold: 0.25, IoUThreshold: 0.45}, false},
		{"negative max detections", ModelConfiguration{ConfidenceThreshold: 0.25, IoUThreshold: 0.45, MaxDetections: -3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cfg.IsValid())
		})
	}
}

func TestModelConfigurationMerge(t *testing.T) {
	active := ModelConfiguration{
		Model:               ModelIdentifier{Name: "GarIA.onnx", Path: "models/GarIA.onnx"},
		ConfidenceThreshold: 0.25,
		IoUThreshold:        0.45,
		MaxDetections:       1000,
	}

	t.Run("right biased", func(t *testing.T) {
		merged := active.Merge(ConfigOverride{ConfidenceThreshold: ptr(0.5)})
		assert.Equal(t, 0.5, merged.ConfidenceThreshold)
		assert.Equal(t, 0.45, merged.IoUThreshold)
		assert.Equal(t, 1000, merged.MaxDetections)
		assert.Equal(t, active.Model, merged.Model)
		assert.Nil(t, merged.TargetClasses)
	})

	t.Run("empty override keeps base", func(t *testing.T) {
		assert.Equal(t, active, active.Merge(ConfigOverride{}))
	})

	t.Run("every field", func(t *testing.T) {
		merged := active.Merge(ConfigOverride{
			ModelName:           ptr("yolov8n.onnx"),
			ModelPath:           ptr("/weights/yolov8n.onnx"),
			ConfidenceThreshold: ptr(0.1),
			IoUThreshold:        ptr(0.7),
			MaxDetections:       ptr(5),
			TargetClasses:       []string{"bottle"},
		})
		assert.Equal(t, ModelConfiguration{
			Model:               ModelIdentifier{Name: "yolov8n.onnx", Path: "/weights/yolov8n.onnx"},
			ConfidenceThreshold: 0.1,
			IoUThreshold:        0.7,
			MaxDetections:       5,
			TargetClasses:       []string{"bottle"},
		}, merged)
	})

	t.Run("new model name drops inherited path", func(t *testing.T) {
		merged := active.Merge(ConfigOverride{ModelName: ptr("other.onnx")})
		assert.Equal(t, ModelIdentifier{Name: "other.onnx"}, merged.Model)
	})

	t.Run("target classes inherited and not aliased", func(t *testing.T) {
		base := active
		base.TargetClasses = []string{"bottle", "can"}
		merged := base.Merge(ConfigOverride{})
		merged.TargetClasses[0] = "bag"
		assert.Equal(t, []string{"bottle", "can"}, base.TargetClasses)
	})

	t.Run("empty target classes clear the filter", func(t *testing.T) {
		base := active
		base.TargetClasses = []string{"bottle"}

		merged := base.Merge(ConfigOverride{TargetClasses: []string{}})
		assert.Nil(t, merged.TargetClasses)
		assert.True(t, merged.AllowsClass("bag"))

		assert.Equal(t, []string{"bottle"}, base.Merge(ConfigOverride{TargetClasses: nil}).TargetClasses)
	})

	t.Run("invalid values survive merge", func(t *testing.T) {
		merged := active.Merge(ConfigOverride{ConfidenceThreshold: ptr(1.5)})
		assert.False(t, merged.IsValid())
	})
}

func TestModelConfigurationAllowsClass(t *testing.T) {
	cfg := ModelConfiguration{}
	assert.True(t, cfg.AllowsClass("anything"))

	cfg.TargetClasses = []string{}
	assert.True(t, cfg.AllowsClass("anything"), "empty list does not filter")

	cfg.TargetClasses = []string{"bottle"}
	assert.True(t, cfg.AllowsClass("bottle"))
	assert.False(t, cfg.AllowsClass("bag"))
}

func TestModelIdentifierKey(t *testing.T) {
	assert.Equal(t, "GarIA.onnx", ModelIdentifier{Name: "GarIA.onnx"}.Key())
	assert.Equal(t, "models/GarIA.onnx", ModelIdentifier{Name: "GarIA.onnx", Path: "models/GarIA.onnx"}.Key())
}
