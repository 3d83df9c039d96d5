package engine

import (
	"strings"
	"testing"

	"github.com/teranos/yume/errors"
	"github.com/teranos/yume/modes"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		w, h    int
		wantErr bool
	}{
		{"512x512", 512, 512, false},
		{"1024X768", 1024, 768, false},
		{"640x480", 640, 480, false},
		{"", 0, 0, true},
		{"512", 0, 0, true},
		{"512x", 0, 0, true},
		{"x512", 0, 0, true},
		{"512x512x512", 0, 0, true},
		{"widexhigh", 0, 0, true},
	}

	for _, tt := range tests {
		w, h, err := ParseSize(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseSize(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSize(%q): %v", tt.in, err)
			continue
		}
		if w != tt.w || h != tt.h {
			t.Errorf("ParseSize(%q) = %dx%d, want %dx%d", tt.in, w, h, tt.w, tt.h)
		}
	}
}

func TestRandomSeedRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		if s := RandomSeed(); s >= 1<<31 {
			t.Fatalf("seed %d outside [0, 2^31)", s)
		}
	}
}

func TestApplyModeDefaults(t *testing.T) {
	mode := modes.Mode{
		Name:            "ukiyo-e",
		DefaultSize:     "768x512",
		DefaultSteps:    24,
		DefaultGuidance: 6.5,
	}

	t.Run("fills everything unset", func(t *testing.T) {
		p := &GenerateParams{Prompt: "the great wave"}
		if err := p.ApplyModeDefaults(mode, false); err != nil {
			t.Fatal(err)
		}
		if p.Width != 768 || p.Height != 512 {
			t.Errorf("size = %dx%d, want mode default 768x512", p.Width, p.Height)
		}
		if p.Steps != 24 {
			t.Errorf("steps = %d, want 24", p.Steps)
		}
		if p.CFG != 6.5 {
			t.Errorf("cfg = %v, want 6.5", p.CFG)
		}
	})

	t.Run("explicit values survive", func(t *testing.T) {
		p := &GenerateParams{Prompt: "x", Width: 640, Height: 640, Steps: 8, CFG: 2, Seed: 99}
		if err := p.ApplyModeDefaults(mode, true); err != nil {
			t.Fatal(err)
		}
		if p.Width != 640 || p.Steps != 8 || p.CFG != 2 || p.Seed != 99 {
			t.Errorf("explicit params overwritten: %+v", p)
		}
	})

	t.Run("superres magnitude defaults to 2", func(t *testing.T) {
		p := &GenerateParams{Prompt: "x", Superres: true}
		if err := p.ApplyModeDefaults(mode, false); err != nil {
			t.Fatal(err)
		}
		if p.SuperresMagnitude != 2 {
			t.Errorf("superres magnitude = %d, want 2", p.SuperresMagnitude)
		}
	})

	t.Run("broken mode size surfaces", func(t *testing.T) {
		p := &GenerateParams{Prompt: "x"}
		if err := p.ApplyModeDefaults(modes.Mode{DefaultSize: "busted"}, false); err == nil {
			t.Error("expected an error from the unparseable default size")
		}
	})
}

func TestGenerateParamsValidate(t *testing.T) {
	valid := func() GenerateParams {
		return GenerateParams{Prompt: "wave", Width: 512, Height: 512, Steps: 20, CFG: 7}
	}

	tests := []struct {
		name    string
		mutate  func(*GenerateParams)
		wantMsg string
	}{
		{"ok", func(p *GenerateParams) {}, ""},
		{"blank prompt", func(p *GenerateParams) { p.Prompt = "  " }, "prompt is required"},
		{"width too small", func(p *GenerateParams) { p.Width = 32 }, "out of range"},
		{"height too large", func(p *GenerateParams) { p.Height = 8192 }, "out of range"},
		{"zero steps", func(p *GenerateParams) { p.Steps = 0 }, "steps"},
		{"steps over cap", func(p *GenerateParams) { p.Steps = 151 }, "steps"},
		{"cfg negative", func(p *GenerateParams) { p.CFG = -1 }, "cfg"},
		{"cfg over cap", func(p *GenerateParams) { p.CFG = 31 }, "cfg"},
		{"superres magnitude zero", func(p *GenerateParams) { p.Superres = true }, "superres_magnitude"},
		{"superres magnitude five", func(p *GenerateParams) { p.Superres = true; p.SuperresMagnitude = 5 }, "superres_magnitude"},
		{"denoise strength", func(p *GenerateParams) { p.DenoiseStrength = 1.5 }, "denoise_strength"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantMsg == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected an error")
			}
			if errors.KindOf(err) != errors.KindBadRequest {
				t.Errorf("kind = %q, want BadRequest", errors.KindOf(err))
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestSRParamsValidate(t *testing.T) {
	if err := (&SRParams{Magnitude: 2}).Validate(); err == nil {
		t.Error("missing ref should be rejected")
	}
	if err := (&SRParams{InitImageRef: "abc", Magnitude: 0}).Validate(); err == nil {
		t.Error("magnitude 0 should be rejected")
	}
	if err := (&SRParams{InitImageRef: "abc", Magnitude: 5}).Validate(); err == nil {
		t.Error("magnitude 5 should be rejected")
	}
	if err := (&SRParams{InitImageRef: "abc", Magnitude: 4}).Validate(); err != nil {
		t.Errorf("magnitude 4 should pass: %v", err)
	}
}

func TestComfyParamsValidate(t *testing.T) {
	if err := (&ComfyParams{}).Validate(); err == nil {
		t.Error("missing workflowId should be rejected")
	}
	if err := (&ComfyParams{WorkflowID: "portrait"}).Validate(); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}
}

func TestModeSwitchParamsValidate(t *testing.T) {
	if err := (&ModeSwitchParams{}).Validate(); err == nil {
		t.Error("missing mode should be rejected")
	}
	if err := (&ModeSwitchParams{Mode: "sumi-e"}).Validate(); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}
}
