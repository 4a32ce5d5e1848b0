package schema

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
	"unsafe"
)

type point struct {
	X, Y float64
}

type shape struct {
	Name     string            `json:"name"`
	Points   []point           `json:"points"`
	Tags     map[string]string `json:"tags,omitempty"`
	Created  time.Time         `json:"created"`
	Extra    json.RawMessage   `json:"extra"`
	Skipped  func()            `json:"-"`
	internal chan int
}

type node struct {
	Value    int     `json:"value"`
	Children []*node `json:"children"`
}

type withAny struct {
	Payload any `json:"payload"`
}

type embedded struct {
	point
	Label string
}

func nested(depth int) reflect.Type {
	t := reflect.TypeFor[int]()
	for i := 0; i < depth; i++ {
		t = reflect.SliceOf(t)
	}
	return t
}

func TestChecker_CheckParameter(t *testing.T) {
	tests := []struct {
		name    string
		typ     reflect.Type
		wantErr bool
	}{
		{"int", reflect.TypeFor[int](), false},
		{"string", reflect.TypeFor[string](), false},
		{"float", reflect.TypeFor[float64](), false},
		{"bool", reflect.TypeFor[bool](), false},
		{"struct with nested composites", reflect.TypeFor[shape](), false},
		{"pointer to struct", reflect.TypeFor[*shape](), false},
		{"slice of structs", reflect.TypeFor[[]point](), false},
		{"array", reflect.TypeFor[[3]int](), false},
		{"integer keyed map", reflect.TypeFor[map[int]point](), false},
		{"time", reflect.TypeFor[time.Time](), false},
		{"embedded unexported struct", reflect.TypeFor[embedded](), false},
		{"any", reflect.TypeFor[any](), true},
		{"non-empty interface", reflect.TypeFor[error](), true},
		{"field of type any", reflect.TypeFor[withAny](), true},
		{"slice of any", reflect.TypeFor[[]any](), true},
		{"channel", reflect.TypeFor[chan int](), true},
		{"receive channel parameter", reflect.TypeFor[<-chan int](), true},
		{"func", reflect.TypeFor[func()](), true},
		{"unsafe pointer", reflect.TypeFor[unsafe.Pointer](), true},
		{"uintptr", reflect.TypeFor[uintptr](), true},
		{"complex", reflect.TypeFor[complex128](), true},
		{"struct keyed map", reflect.TypeFor[map[point]int](), true},
		{"self-referential type", reflect.TypeFor[node](), true},
	}

	c := NewChecker()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.CheckParameter(tt.typ)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckParameter(%s) error = %v, wantErr %v", tt.typ, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrTypeNotAllowed) {
				t.Errorf("error %v does not wrap ErrTypeNotAllowed", err)
			}
		})
	}
}

func TestChecker_CheckReturn(t *testing.T) {
	tests := []struct {
		name    string
		typ     reflect.Type
		wantErr bool
	}{
		{"plain value", reflect.TypeFor[point](), false},
		{"eventual value", reflect.TypeFor[<-chan point](), false},
		{"eventual slice", reflect.TypeFor[<-chan []string](), false},
		{"bidirectional channel", reflect.TypeFor[chan point](), true},
		{"send channel", reflect.TypeFor[chan<- point](), true},
		{"eventual any", reflect.TypeFor[<-chan any](), true},
		{"nested eventual", reflect.TypeFor[<-chan <-chan int](), true},
	}

	c := NewChecker()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.CheckReturn(tt.typ)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckReturn(%s) error = %v, wantErr %v", tt.typ, err, tt.wantErr)
			}
		})
	}
}

func TestChecker_MaxDepth(t *testing.T) {
	t.Run("default bound", func(t *testing.T) {
		c := NewChecker()
		if err := c.CheckParameter(nested(DefaultMaxDepth)); err != nil {
			t.Errorf("depth %d should pass: %v", DefaultMaxDepth, err)
		}
		if err := c.CheckParameter(nested(DefaultMaxDepth + 1)); err == nil {
			t.Errorf("depth %d should fail", DefaultMaxDepth+1)
		}
	})

	t.Run("custom bound", func(t *testing.T) {
		c := &Checker{MaxDepth: 2}
		if err := c.CheckParameter(nested(2)); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if err := c.CheckParameter(nested(3)); err == nil {
			t.Error("expected depth error")
		}
	})

	t.Run("zero value uses default", func(t *testing.T) {
		var c Checker
		if err := c.CheckParameter(nested(10)); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("shared subtype at different depths", func(t *testing.T) {
		type leaf struct{ V []int }
		type holder struct {
			Shallow leaf
			Deep    [][]leaf
		}
		c := &Checker{MaxDepth: 5}
		if err := c.CheckParameter(reflect.TypeFor[holder]()); err != nil {
			t.Errorf("depth 5 holder should pass: %v", err)
		}
		c = &Checker{MaxDepth: 4}
		if err := c.CheckParameter(reflect.TypeFor[holder]()); err == nil {
			t.Error("depth 4 should reject the deep path even after the shallow one passed")
		}
	})
}

func TestTypeError_Path(t *testing.T) {
	err := NewChecker().CheckParameter(reflect.TypeFor[[]withAny]())

	var typeErr *TypeError
	if !errors.As(err, &typeErr) {
		t.Fatalf("expected *TypeError, got %v", err)
	}
	if typeErr.Path != "[].payload" {
		t.Errorf("Path = %q, want %q", typeErr.Path, "[].payload")
	}
}
