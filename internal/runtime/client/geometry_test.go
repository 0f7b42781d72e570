// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/runtime/client/geometry_test.go
// Summary: Exercises view-to-desktop coordinate mapping.

package clientruntime

import "testing"

func TestGeometryToDesktop(t *testing.T) {
	cases := []struct {
		name         string
		viewW, viewH int
		deskW, deskH int
		x, y         int
		wantX, wantY int
	}{
		{"identity", 100, 100, 100, 100, 10, 20, 10, 20},
		{"upscale", 80, 48, 800, 480, 40, 24, 405, 245},
		{"downscale", 200, 200, 100, 100, 199, 0, 99, 0},
		{"clamp negative", 80, 48, 800, 480, -3, -1, 0, 0},
		{"clamp beyond", 80, 48, 800, 480, 90, 60, 799, 479},
		{"no view yet", 0, 0, 640, 480, 12, 13, 12, 13},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var g Geometry
			g.SetView(tc.viewW, tc.viewH)
			g.SetDesktop(tc.deskW, tc.deskH)
			x, y := g.ToDesktop(tc.x, tc.y)
			if x != tc.wantX || y != tc.wantY {
				t.Fatalf("ToDesktop(%d,%d) = (%d,%d), want (%d,%d)", tc.x, tc.y, x, y, tc.wantX, tc.wantY)
			}
		})
	}
}

func TestGeometryGenerationInvalidatesCache(t *testing.T) {
	var g Geometry
	g.SetView(100, 100)
	g.SetDesktop(100, 100)
	if x, _ := g.ToDesktop(50, 50); x != 50 {
		t.Fatalf("x = %d, want 50", x)
	}
	gen := g.Generation()

	g.SetDesktop(100, 100)
	if g.Generation() != gen {
		t.Fatal("same size bumped the generation")
	}
	g.SetDesktop(200, 200)
	if g.Generation() == gen {
		t.Fatal("size change did not bump the generation")
	}
	if x, _ := g.ToDesktop(50, 50); x != 101 {
		t.Fatalf("x after resize = %d, want 101", x)
	}
}
