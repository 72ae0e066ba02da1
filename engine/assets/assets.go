// Package assets embeds the WGSL programs of the engine. Shaders are loaded through
// renderer.CompileAndLoadShader, which reads from FS by default.
package assets

import "embed"

// FS holds the shaders directory. Include files live in shaders/include.
//
//go:embed shaders
var FS embed.FS

// Shader paths within FS.
const (
	SceneShader     = "shaders/scene.wgsl"
	OverlayShader   = "shaders/overlay.wgsl"
	AnalysisShader  = "shaders/analysis.wgsl"
	SynthesisShader = "shaders/synthesis.wgsl"
)
