package marker_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agentdesk/internal/marker"
)

var _ = Describe("Processor", func() {
	Describe("ExtractDataCapture", func() {
		It("returns the raw payload of the first DATA marker", func() {
			text := `Got it! [DATA: company_name="Acme" industry="retail"] Anything else?`

			payload, ok := marker.ExtractDataCapture(text)

			Expect(ok).To(BeTrue())
			Expect(payload).To(Equal(`company_name="Acme" industry="retail"`))
		})

		It("only reports the first of several DATA markers", func() {
			payload, ok := marker.ExtractDataCapture(`[DATA: a="1"] and [DATA: b="2"]`)

			Expect(ok).To(BeTrue())
			Expect(payload).To(Equal(`a="1"`))
		})

		It("captures payloads that span lines", func() {
			payload, ok := marker.ExtractDataCapture("[DATA: a=\"1\"\nb=\"2\"]")

			Expect(ok).To(BeTrue())
			Expect(payload).To(Equal("a=\"1\"\nb=\"2\""))
		})

		It("reports absence when there is no marker", func() {
			_, ok := marker.ExtractDataCapture("plain reply")

			Expect(ok).To(BeFalse())
		})
	})

	Describe("ExtractEscalation", func() {
		It("returns the trimmed reason", func() {
			reason, ok := marker.ExtractEscalation("Let me get a human. [ESCALATE:  billing dispute  ]")

			Expect(ok).To(BeTrue())
			Expect(reason).To(Equal("billing dispute"))
		})

		It("treats a blank reason as absent", func() {
			_, ok := marker.ExtractEscalation("[ESCALATE:    ]")

			Expect(ok).To(BeFalse())
		})

		It("requires the space after the colon", func() {
			_, ok := marker.ExtractEscalation("[ESCALATE:urgent]")

			Expect(ok).To(BeFalse())
		})
	})

	Describe("ExtractImageRequest", func() {
		It("extracts the prompt and aspect", func() {
			req, ok := marker.ExtractImageRequest("Here's your image! [GENERATE_IMAGE: a red fox] [ASPECT: portrait]")

			Expect(ok).To(BeTrue())
			Expect(req.Prompt).To(Equal("a red fox"))
			Expect(req.Aspect).To(Equal(marker.AspectPortrait))
		})

		It("defaults the aspect to landscape", func() {
			req, ok := marker.ExtractImageRequest("[GENERATE_IMAGE: sunset over hills]")

			Expect(ok).To(BeTrue())
			Expect(req.Aspect).To(Equal(marker.AspectLandscape))
		})

		It("accepts aspect names in any case", func() {
			req, _ := marker.ExtractImageRequest("[GENERATE_IMAGE: cat] [ASPECT: SQUARE]")

			Expect(req.Aspect).To(Equal(marker.AspectSquare))
		})

		It("maps ratio hints onto an orientation", func() {
			req, _ := marker.ExtractImageRequest("[GENERATE_IMAGE: cat] [ASPECT: 4:5]")

			Expect(req.Aspect).To(Equal(marker.AspectPortrait))
		})

		It("falls back to landscape for an unknown aspect", func() {
			req, _ := marker.ExtractImageRequest("[GENERATE_IMAGE: cat] [ASPECT: diagonal]")

			Expect(req.Aspect).To(Equal(marker.AspectLandscape))
		})

		It("ignores an empty prompt", func() {
			_, ok := marker.ExtractImageRequest("[GENERATE_IMAGE:   ]")

			Expect(ok).To(BeFalse())
		})
	})

	Describe("ExtractVideoRequest", func() {
		It("collects every hint", func() {
			text := "Rolling! [GENERATE_VIDEO: product spin on a turntable] [DURATION: 30] [ASPECT: 9:16] [STYLE: cinematic]"

			req, ok := marker.ExtractVideoRequest(text)

			Expect(ok).To(BeTrue())
			Expect(req).To(Equal(marker.VideoRequest{
				Prompt:      "product spin on a turntable",
				AspectRatio: "9:16",
				DurationSec: 30,
				Style:       "cinematic",
			}))
		})

		It("leaves missing hints zero", func() {
			req, ok := marker.ExtractVideoRequest("[GENERATE_VIDEO: waves]")

			Expect(ok).To(BeTrue())
			Expect(req.AspectRatio).To(BeEmpty())
			Expect(req.DurationSec).To(BeZero())
			Expect(req.Style).To(BeEmpty())
		})

		It("converts a named aspect to a ratio", func() {
			req, _ := marker.ExtractVideoRequest("[GENERATE_VIDEO: waves] [ASPECT: portrait] [DURATION: 45s]")

			Expect(req.AspectRatio).To(Equal("9:16"))
			Expect(req.DurationSec).To(Equal(45))
		})
	})

	Describe("Strip", func() {
		It("removes every occurrence of the given kinds", func() {
			text := `A [DATA: x="1"] B [DATA: y="2"] C`

			Expect(marker.Strip(text, marker.KindData)).To(Equal("A  B  C"))
		})

		It("leaves other kinds alone", func() {
			text := "A [ESCALATE: help] B"

			Expect(marker.Strip(text, marker.KindData)).To(Equal(text))
		})

		It("removes markers spanning lines", func() {
			text := "Start [DATA: a=\"1\"\nb=\"2\"] end"

			Expect(marker.Strip(text, marker.KindData)).To(Equal("Start  end"))
		})

		It("removes malformed escalations that extraction ignores", func() {
			Expect(marker.Strip("ok [ESCALATE:] done", marker.KindEscalate)).To(Equal("ok  done"))
		})

		It("collapses runs of blank lines", func() {
			text := "Hello\n\n[DATA: a=\"1\"]\n\nWorld"

			Expect(marker.Strip(text, marker.KindData)).To(Equal("Hello\n\nWorld"))
		})

		It("trims surrounding whitespace", func() {
			Expect(marker.Strip("\n  [DATA: a=\"1\"] hi  \n", marker.KindData)).To(Equal("hi"))
		})

		It("is idempotent", func() {
			once := marker.StripAll("x [DATA: a=\"1\"]\n\n\n\ny [ESCALATE: z]")

			Expect(marker.StripAll(once)).To(Equal(once))
		})
	})

	Describe("Process", func() {
		It("extracts markers and cleans the reply", func() {
			text := "Welcome aboard!\n\n[DATA: skill_level=\"beginner\"]\n\n\n[ESCALATE: wants a refund]\nTalk soon."

			res := marker.Process(text)

			Expect(res.HasData).To(BeTrue())
			Expect(res.Data).To(Equal(`skill_level="beginner"`))
			Expect(res.Escalated()).To(BeTrue())
			Expect(res.Escalation).To(Equal("wants a refund"))
			Expect(res.Image).To(BeNil())
			Expect(res.Video).To(BeNil())
			Expect(res.Cleaned).To(Equal("Welcome aboard!\n\nTalk soon."))
		})

		It("reports markers in grammar order", func() {
			res := marker.Process("[ASPECT: square] [GENERATE_IMAGE: owl] [ESCALATE: x]")

			kinds := make([]marker.Kind, 0, len(res.Markers))
			for _, m := range res.Markers {
				kinds = append(kinds, m.Kind)
			}
			Expect(kinds).To(Equal([]marker.Kind{marker.KindEscalate, marker.KindGenerateImage, marker.KindAspect}))
			Expect(res.Image.Aspect).To(Equal(marker.AspectSquare))
			Expect(res.Cleaned).To(BeEmpty())
		})

		It("scrubs pending tags a model tries to forge", func() {
			res := marker.Process("Done [IMAGE_PENDING: abc] [VIDEO_PENDING: def]")

			Expect(res.Cleaned).To(Equal("Done"))
		})

		It("returns an empty marker list for plain text", func() {
			res := marker.Process("  just text  ")

			Expect(res.Markers).NotTo(BeNil())
			Expect(res.Markers).To(BeEmpty())
			Expect(res.Cleaned).To(Equal("just text"))
		})

		It("never leaves a known tag in the cleaned output", func() {
			text := `[DATA: a="1"] [ESCALATE: b] [GENERATE_IMAGE: c] [ASPECT: portrait] ` +
				`[GENERATE_VIDEO: d] [DURATION: 15] [STYLE: e] [ESCALATE:] [DATA:]`

			res := marker.Process(text)

			for _, k := range marker.Kinds() {
				Expect(res.Cleaned).NotTo(ContainSubstring("[" + string(k) + ":"))
			}
		})
	})

	Describe("catalog workflow tags", func() {
		It("scrubs every workflow tag and reports each once", func() {
			text := "Draft ready.\n\n[INGEST_DATA: sheet=1]\n[EXPORT_DRAFT: format=\"csv\"]\n[EXPORT_DRAFT: format=\"json\"]"

			res := marker.Process(text)

			Expect(res.Cleaned).To(Equal("Draft ready."))
			Expect(res.Activities).To(Equal([]marker.Marker{
				{Kind: marker.KindIngestData, Payload: "sheet=1"},
				{Kind: marker.KindExportDraft, Payload: `format="csv"`},
			}))
			Expect(res.ScopeViolation).To(BeFalse())
		})

		It("counts a workflow tag with a blank payload", func() {
			res := marker.Process("Normalizing now. [NORMALIZE_PRODUCTS:] [GENERATE_CONTENT: titles] [PROCESS_IMAGES: alt-text]")

			Expect(res.Cleaned).To(Equal("Normalizing now."))
			Expect(res.Activities).To(HaveLen(3))
			Expect(res.Activities[0]).To(Equal(marker.Marker{Kind: marker.KindNormalizeProducts, Payload: ""}))
		})

		It("flags publish, live and deploy tags in any case", func() {
			for _, text := range []string{"ok [PUBLISH: shopify]", "ok [live]", "ok [Deploy now]"} {
				res := marker.Process(text)

				Expect(res.ScopeViolation).To(BeTrue(), text)
				Expect(res.Cleaned).To(Equal("ok"), text)
			}
		})

		It("does not flag the words outside a tag", func() {
			res := marker.Process("Once you approve, you can publish it and go live. [LIVELY: x]")

			Expect(res.ScopeViolation).To(BeFalse())
		})
	})

	Describe("pending tags", func() {
		It("renders and appends the tag", func() {
			out := marker.AppendPending("Here you go", marker.KindImagePending, "img-1")

			Expect(out).To(Equal("Here you go\n\n[IMAGE_PENDING: img-1]"))
			Expect(marker.PendingIDs(out, marker.KindImagePending)).To(Equal([]string{"img-1"}))
		})

		It("returns the bare tag for an empty reply", func() {
			Expect(marker.AppendPending("", marker.KindVideoPending, "v")).To(Equal("[VIDEO_PENDING: v]"))
		})

		It("round trips through Process untouched by user text", func() {
			out := marker.AppendPending(marker.Process("hi [GENERATE_IMAGE: x]").Cleaned, marker.KindImagePending, "id")

			Expect(strings.HasSuffix(out, "[IMAGE_PENDING: id]")).To(BeTrue())
		})
	})

	Describe("ParseKind", func() {
		It("recognises known tags", func() {
			k, ok := marker.ParseKind("ESCALATE")

			Expect(ok).To(BeTrue())
			Expect(k).To(Equal(marker.KindEscalate))
		})

		It("rejects unknown tags", func() {
			_, ok := marker.ParseKind("ESCALATION")

			Expect(ok).To(BeFalse())
		})
	})
})
