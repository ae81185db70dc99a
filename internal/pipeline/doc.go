// Package pipeline runs the design pipeline: a raw sketch is turned into a
// generated product image, which is then enhanced into the final artifact.
//
// # Stages
//
// The pipeline has two mandatory stages executed in order:
//   - generation: raw sketch -> generated product image
//   - enhancement: generated image -> final image
//
// The enhancement stage also asks the text-generation capability for
// enhancement suggestions. That call is advisory: its outcome is logged and
// recorded in the stage log but never changes control flow.
//
// # States
//
// Each run moves through
//
//	received -> generating -> generated -> enhancing -> final -> done
//
// with a terminal error state reachable from generating or enhancing.
// Transitions are reported to registered observers.
//
// # Artifacts
//
// Stages communicate only through the session's artifact slots. Each stage
// deletes its input slot once its output is durable, so a finished session
// holds only the final artifact.
package pipeline
