// Package vision sends one image plus a text prompt to a hosted multimodal
// model and returns the model's answer.
//
// Invariants:
// - Each Describe call issues exactly one provider request; there are no retries.
// - Missing credentials are reported as ErrMissingCredential before any network call.
// - Answers are whitespace-trimmed; an empty answer is ErrEmptyResponse.
//
// Usage:
//
//	f := vision.NewFactory(vision.Settings{Name: vision.ProviderGroq})
//	p, _ := f.Provider(ctx)
//	resp, _ := p.Describe(ctx, vision.Request{Prompt: "Describe this image.", Image: img, MaxTokens: 100})
//	_ = resp.Text
package vision
