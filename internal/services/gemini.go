package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/bobarin/adshot/internal/errs"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const (
	defaultGeminiModel = "gemini-3-pro-image-preview"
	compositeImageSize = "1K"
	defaultAspectRatio = "9:16"
)

const compositeInstruction = `combine the person and product into a realistic photo.
Make the person naturally hold or use the product.
Match lighting, shadows, scale and perspective.
Make the person stand in professional studio lighting.
Output ecommerce-quality photo realistic imagery.`

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiService produces the product-with-person composite image.
type GeminiService struct {
	models contentGenerator
	model  string
}

func NewGeminiService(client *genai.Client, model string) *GeminiService {
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiService{models: client.Models, model: model}
}

// InlineImage is raw image bytes plus their MIME type.
type InlineImage struct {
	Data     []byte
	MIMEType string
}

type CompositeRequest struct {
	Product     InlineImage
	Person      InlineImage
	AspectRatio string
	UserPrompt  string
}

// GenerateComposite asks the image model to merge the two inputs into one photo.
func (s *GeminiService) GenerateComposite(ctx context.Context, req CompositeRequest) (*InlineImage, error) {
	content := BuildCompositeContent(req)
	config := CompositeConfig(req.AspectRatio)

	log.Info().
		Str("model", s.model).
		Str("aspect_ratio", config.ImageConfig.AspectRatio).
		Int("product_bytes", len(req.Product.Data)).
		Int("person_bytes", len(req.Person.Data)).
		Msg("[Gemini] Generating composite image")

	resp, err := s.models.GenerateContent(ctx, s.model, []*genai.Content{content}, config)
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstream, fmt.Sprintf("Image generation failed: %v", err), err)
	}

	img, err := ExtractImage(resp)
	if err != nil {
		return nil, err
	}

	log.Info().Int("bytes", len(img.Data)).Str("mime", img.MIMEType).Msg("[Gemini] Composite image generated")
	return img, nil
}

// CompositePrompt is the fixed instruction followed by the caller's own prompt.
func CompositePrompt(userPrompt string) string {
	userPrompt = strings.TrimSpace(userPrompt)
	if userPrompt == "" {
		return compositeInstruction
	}
	return compositeInstruction + "\n" + userPrompt
}

// BuildCompositeContent orders the parts as product image, person image, text.
func BuildCompositeContent(req CompositeRequest) *genai.Content {
	return genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromBytes(req.Product.Data, req.Product.MIMEType),
		genai.NewPartFromBytes(req.Person.Data, req.Person.MIMEType),
		genai.NewPartFromText(CompositePrompt(req.UserPrompt)),
	}, genai.RoleUser)
}

// CompositeConfig disables every adjustable safety category and pins the output size.
func CompositeConfig(aspectRatio string) *genai.GenerateContentConfig {
	if aspectRatio == "" {
		aspectRatio = defaultAspectRatio
	}

	categories := []genai.HarmCategory{
		genai.HarmCategoryHateSpeech,
		genai.HarmCategoryDangerousContent,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryHarassment,
	}
	safety := make([]*genai.SafetySetting, 0, len(categories))
	for _, c := range categories {
		safety = append(safety, &genai.SafetySetting{
			Category:  c,
			Threshold: genai.HarmBlockThresholdOff,
		})
	}

	return &genai.GenerateContentConfig{
		ImageConfig: &genai.ImageConfig{
			AspectRatio: aspectRatio,
			ImageSize:   compositeImageSize,
		},
		SafetySettings: safety,
	}
}

// ExtractImage returns the last inline image in the first candidate.
func ExtractImage(resp *genai.GenerateContentResponse) (*InlineImage, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil ||
		resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, errs.Upstream("Unexpected response")
	}

	var found *InlineImage
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		mimeType := part.InlineData.MIMEType
		if mimeType == "" {
			mimeType = "image/png"
		}
		found = &InlineImage{Data: part.InlineData.Data, MIMEType: mimeType}
	}

	if found == nil {
		return nil, errs.Upstream("Failed to generate image")
	}
	return found, nil
}
