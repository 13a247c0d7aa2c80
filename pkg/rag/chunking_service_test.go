package rag

import (
	"context"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// reassemble strips the leading overlap from every chunk after the first and
// concatenates the remainder.
func reassemble(chunks []*Chunk) string {
	var sb strings.Builder
	prevEnd := 0
	for _, c := range chunks {
		sb.WriteString(c.Text[prevEnd-c.StartOffset:])
		prevEnd = c.EndOffset
	}
	return sb.String()
}

func docFromText(id, text string) *LoadedDocument {
	return &LoadedDocument{
		ID:    id,
		Pages: []PageText{{Number: 1, Text: text}},
	}
}

var _ = Describe("ChunkingService", func() {
	var service *ChunkingService

	BeforeEach(func() {
		service = NewChunkingService(&ChunkingConfig{
			ChunkSize:      1500,
			ChunkOverlap:   300,
			BoundaryWindow: 0.10,
		})
	})

	Describe("ChunkDocument", func() {
		It("returns an empty slice for an empty document", func() {
			chunks, err := service.ChunkDocument(context.Background(), docFromText("d1", ""))
			Expect(err).ToNot(HaveOccurred())
			Expect(chunks).To(BeEmpty())
		})

		It("produces exactly three chunks at the documented offsets for a 3000-character document", func() {
			text := strings.Repeat("a", 3000)
			chunks, err := service.ChunkDocument(context.Background(), docFromText("d1", text))
			Expect(err).ToNot(HaveOccurred())
			Expect(chunks).To(HaveLen(3))

			Expect(chunks[0].StartOffset).To(Equal(0))
			Expect(chunks[0].EndOffset).To(Equal(1500))
			Expect(chunks[1].StartOffset).To(Equal(1200))
			Expect(chunks[1].EndOffset).To(Equal(2700))
			Expect(chunks[2].StartOffset).To(Equal(2400))
			Expect(chunks[2].EndOffset).To(Equal(3000))
		})

		It("reconstructs the original text losslessly after removing overlaps", func() {
			var sb strings.Builder
			for i := 0; i < 400; i++ {
				sb.WriteString("The policyholder shall notify the insurer of any claim within thirty days. ")
			}
			text := sb.String()

			chunks, err := service.ChunkDocument(context.Background(), docFromText("d1", text))
			Expect(err).ToNot(HaveOccurred())
			Expect(len(chunks)).To(BeNumerically(">", 1))
			Expect(reassemble(chunks)).To(Equal(text))
		})

		It("ends a chunk at a sentence boundary when one falls in the window tail", func() {
			// A sentence terminator placed inside the last 10% of the first
			// window (offsets 1350..1500).
			text := strings.Repeat("a", 1400) + ". " + strings.Repeat("b", 2000)
			chunks, err := service.ChunkDocument(context.Background(), docFromText("d1", text))
			Expect(err).ToNot(HaveOccurred())
			Expect(chunks[0].EndOffset).To(Equal(1401))
			Expect(strings.HasSuffix(chunks[0].Text, ".")).To(BeTrue())
			Expect(reassemble(chunks)).To(Equal(text))
		})

		It("falls back to a hard split when no boundary exists in the tail", func() {
			text := strings.Repeat("a", 4000)
			chunks, err := service.ChunkDocument(context.Background(), docFromText("d1", text))
			Expect(err).ToNot(HaveOccurred())
			Expect(chunks[0].EndOffset).To(Equal(1500))
		})

		It("annotates each chunk with the page owning the majority of its characters", func() {
			doc := &LoadedDocument{
				ID: "d1",
				Pages: []PageText{
					{Number: 1, Text: strings.Repeat("a", 1000)},
					{Number: 2, Text: strings.Repeat("b", 1000)},
					{Number: 3, Text: strings.Repeat("c", 1000)},
				},
			}
			chunks, err := service.ChunkDocument(context.Background(), doc)
			Expect(err).ToNot(HaveOccurred())
			Expect(chunks).To(HaveLen(3))

			// [0,1500) is mostly page 1, [1200,2700) mostly page 2,
			// [2400,3000) mostly page 3.
			Expect(chunks[0].PageNumber).To(Equal(1))
			Expect(chunks[1].PageNumber).To(Equal(2))
			Expect(chunks[2].PageNumber).To(Equal(3))
		})

		It("records the document id on every chunk", func() {
			chunks, err := service.ChunkDocument(context.Background(), docFromText("doc-42", strings.Repeat("x", 2000)))
			Expect(err).ToNot(HaveOccurred())
			for _, c := range chunks {
				Expect(c.DocumentID).To(Equal("doc-42"))
			}
		})
	})

	Describe("ChunkDocuments", func() {
		It("assigns sequential ids across the whole document set", func() {
			docs := []*LoadedDocument{
				docFromText("d1", strings.Repeat("a", 2000)),
				docFromText("d2", strings.Repeat("b", 2000)),
			}
			chunks, err := service.ChunkDocuments(context.Background(), docs)
			Expect(err).ToNot(HaveOccurred())
			for i, c := range chunks {
				Expect(c.ID).To(Equal(i))
			}
			Expect(chunks[0].DocumentID).To(Equal("d1"))
			Expect(chunks[len(chunks)-1].DocumentID).To(Equal("d2"))
		})
	})
})
