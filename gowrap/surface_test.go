package gowrap

import (
	"strings"
	"testing"

	"github.com/chazu/garnet/meta"
)

func describeShapes(t *testing.T) ClassSurface {
	t.Helper()
	model, err := IntrospectPackage(shapesPath, nil)
	if err != nil {
		t.Fatalf("IntrospectPackage(shapes): %v", err)
	}
	classes := Describe(model)
	if len(classes) != 1 {
		t.Fatalf("expected 1 class, got %d", len(classes))
	}
	if classes[0].Name != "Counter" {
		t.Fatalf("expected Counter, got %q", classes[0].Name)
	}
	return classes[0]
}

func TestDescribe_Methods(t *testing.T) {
	cs := describeShapes(t)

	var names []string
	for _, m := range cs.Methods {
		names = append(names, m.Name)
	}
	if got := strings.Join(names, ","); got != "add,attach,collect,increment,sum" {
		t.Fatalf("expected add,attach,collect,increment,sum, got %s", got)
	}

	add := cs.Methods[0]
	if len(add.Overloads) != 2 {
		t.Fatalf("add: expected 2 overloads, got %d", len(add.Overloads))
	}
	if add.Overloads[1].GoName != "Add_Pair" || len(add.Overloads[1].Params) != 2 {
		t.Errorf("add: unexpected second overload %+v", add.Overloads[1])
	}

	tests := []struct {
		group    int
		params   []meta.Type
		variadic bool
		result   string
	}{
		{1, []meta.Type{meta.Object}, false, ""},
		{2, []meta.Type{meta.String}, true, "Dynamic"},
		{3, nil, false, "Int"},
		{4, nil, true, "Int"},
	}
	for _, tt := range tests {
		m := cs.Methods[tt.group]
		ov := m.Overloads[0]
		if len(ov.Params) != len(tt.params) {
			t.Errorf("%s: expected params %v, got %v", m.Name, tt.params, ov.Params)
			continue
		}
		for i := range ov.Params {
			if ov.Params[i] != tt.params[i] {
				t.Errorf("%s: expected params %v, got %v", m.Name, tt.params, ov.Params)
			}
		}
		if ov.Variadic != tt.variadic {
			t.Errorf("%s: expected variadic %v, got %v", m.Name, tt.variadic, ov.Variadic)
		}
		if ov.Result != tt.result {
			t.Errorf("%s: expected result %q, got %q", m.Name, tt.result, ov.Result)
		}
	}
}

func TestDescribe_Problems(t *testing.T) {
	cs := describeShapes(t)
	if len(cs.Problems) != 2 {
		t.Fatalf("expected 2 problems, got %v", cs.Problems)
	}
	if !strings.HasPrefix(cs.Problems[0], "Split: unsupported results") {
		t.Errorf("expected Split problem, got %q", cs.Problems[0])
	}
	if !strings.Contains(cs.Problems[1], "Watch: parameter 1: unsupported Go type chan int") {
		t.Errorf("expected Watch problem, got %q", cs.Problems[1])
	}
}

func TestDescribe_Properties(t *testing.T) {
	cs := describeShapes(t)

	expected := []PropertySurface{
		{Name: "count", GoName: "Count", Type: meta.Int},
		{Name: "caption", GoName: "Label", Type: meta.String, ReadOnly: true},
		{Name: "tags", GoName: "Tags", Type: meta.Map},
	}
	if len(cs.Properties) != len(expected) {
		t.Fatalf("expected %d properties, got %+v", len(expected), cs.Properties)
	}
	for i, p := range expected {
		if cs.Properties[i] != p {
			t.Errorf("property %d: expected %+v, got %+v", i, p, cs.Properties[i])
		}
	}
	if len(cs.Skipped) != 1 || !strings.HasPrefix(cs.Skipped[0], "Events:") {
		t.Errorf("expected Events skipped, got %v", cs.Skipped)
	}
}

func TestClassSurface_String(t *testing.T) {
	out := describeShapes(t).String()
	for _, want := range []string{
		"class Counter\n",
		"  add(Int, Int) -> Int\n",
		"  collect(String, ...) -> Dynamic\n",
		"  sum(...) -> Int\n",
		"  caption: String (read-only)\n",
		"  # rejected Watch",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
}
