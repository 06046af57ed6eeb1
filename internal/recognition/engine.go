// Package recognition sends batches of cropped product images to a vision
// model and turns its reply into candidate product names.
package recognition

import "context"

// Image is one encoded crop ready to be sent to an engine
type Image struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Engine is an external vision model. Recognize sends the prompt and images in
// a single call and returns the model's raw text reply.
type Engine interface {
	Recognize(ctx context.Context, prompt string, images []Image) (string, error)
	Name() string
}

// DefaultPrompt asks for one brand+product name per readable image
const DefaultPrompt = `Analyze these retail product images.

For each image:
1. Read the product label/text
2. Identify the brand and product name
3. Format as "Brand Product Name"
4. If text is not clear, skip the product

Return in JSON format:
{
    "products": [
        {"Product Name": "Brand Product Name"}
    ]
}`
