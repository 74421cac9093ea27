package models

import "slices"

// Defaults applied when no active configuration exists yet.
const (
	DefaultConfidenceThreshold = 0.25
	DefaultIoUThreshold        = 0.45
	DefaultMaxDetections       = 1000
)

// ModelIdentifier names a model and, optionally, where its weights live.
type ModelIdentifier struct {
	Name string `json:"model_name"`
	Path string `json:"model_path"`
}

// Key identifies the model for load memoization.
func (m ModelIdentifier) Key() string {
	if m.Path != "" {
		return m.Path
	}
	return m.Name
}

// ModelConfiguration parameterizes a detection run.
//
// Construction never fails; call IsValid before use.
type ModelConfiguration struct {
	Model               ModelIdentifier `json:"model"`
	ConfidenceThreshold float64         `json:"confidence_threshold"`
	IoUThreshold        float64         `json:"iou_threshold"`
	MaxDetections       int             `json:"max_detections"`
	// TargetClasses restricts results to these class names. Empty disables filtering.
	TargetClasses []string `json:"target_classes"`
}

// DefaultModelConfiguration returns the documented defaults for model.
func DefaultModelConfiguration(model ModelIdentifier) ModelConfiguration {
	return ModelConfiguration{
		Model:               model,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		IoUThreshold:        DefaultIoUThreshold,
		MaxDetections:       DefaultMaxDetections,
	}
}

// IsValid reports whether both thresholds are within [0,1] and MaxDetections is positive.
func (c ModelConfiguration) IsValid() bool {
	return c.ConfidenceThreshold >= 0 && c.ConfidenceThreshold <= 1 &&
		c.IoUThreshold >= 0 && c.IoUThreshold <= 1 &&
		c.MaxDetections > 0
}

// AllowsClass reports whether results of class name are kept.
func (c ModelConfiguration) AllowsClass(name string) bool {
	return len(c.TargetClasses) == 0 || slices.Contains(c.TargetClasses, name)
}

// ConfigOverride is a partial ModelConfiguration supplied with a request.
// Nil fields inherit from the configuration it is merged onto. A non-nil
// empty TargetClasses clears the inherited class filter.
type ConfigOverride struct {
	ModelName           *string  `json:"model_name,omitempty"`
	ModelPath           *string  `json:"model_path,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence,omitempty"`
	IoUThreshold        *float64 `json:"iou_threshold,omitempty"`
	MaxDetections       *int     `json:"max_detections,omitempty"`
	TargetClasses       []string `json:"target_classes,omitempty"`
	// ClassIDs is handed to the detector as an allow-list; it does not take
	// part in the merged configuration.
	ClassIDs []int `json:"class_ids,omitempty"`
}

// Merge returns c with every field set in o taking precedence.
func (c ModelConfiguration) Merge(o ConfigOverride) ModelConfiguration {
	merged := c
	if o.ModelName != nil {
		merged.Model.Name = *o.ModelName
		// A different model name invalidates the inherited weights path.
		if o.ModelPath == nil && *o.ModelName != c.Model.Name {
			merged.Model.Path = ""
		}
	}
	if o.ModelPath != nil {
		merged.Model.Path = *o.ModelPath
	}
	if o.ConfidenceThreshold != nil {
		merged.ConfidenceThreshold = *o.ConfidenceThreshold
	}
	if o.IoUThreshold != nil {
		merged.IoUThreshold = *o.IoUThreshold
	}
	if o.MaxDetections != nil {
		merged.MaxDetections = *o.MaxDetections
	}
	switch {
	case o.TargetClasses != nil && len(o.TargetClasses) == 0:
		// An explicit empty list clears the inherited filter.
		merged.TargetClasses = nil
	case o.TargetClasses != nil:
		merged.TargetClasses = slices.Clone(o.TargetClasses)
	default:
		merged.TargetClasses = slices.Clone(c.TargetClasses)
	}
	return merged
}
