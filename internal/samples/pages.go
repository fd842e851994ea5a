package samples

import (
	"strconv"
	"sync"

	"github.com/ooui-go/ooui/internal/dom"
)

// Counter is a heading, a count and two buttons.
func Counter() *dom.Element {
	root := dom.NewDiv()
	root.AppendChild(dom.NewHeading(1, "Counter"))

	var mu sync.Mutex
	n := 0
	count := dom.NewSpan("0")
	count.SetStyle("fontSize", "2em")

	step := func(delta int) dom.Handler {
		return func(dom.Event) {
			mu.Lock()
			n += delta
			v := n
			mu.Unlock()
			count.SetText(strconv.Itoa(v))
		}
	}
	dec := dom.NewButton("-")
	dec.On("click", step(-1))
	inc := dom.NewButton("+")
	inc.On("click", step(1))

	root.AppendChild(dec)
	root.AppendChild(count)
	root.AppendChild(inc)
	return root
}

// Echo mirrors a text area into a paragraph as the user types.
func Echo() *dom.Element {
	root := dom.NewDiv()
	root.AppendChild(dom.NewHeading(1, "Echo"))

	input := dom.NewTextArea("")
	input.SetAttribute("rows", "4")
	label := dom.NewLabel("Say something", input.Element)
	out := dom.NewElement("p")

	update := func(dom.Event) { out.ReplaceText(input.Value()) }
	input.On("input", update)
	input.On("change", update)

	root.AppendChild(label)
	root.AppendChild(input.Element)
	root.AppendChild(out)
	return root
}

const drawSize = 8

// Draw is a full-screen canvas that marks every click.
func Draw() *dom.Element {
	root := dom.NewDiv()
	root.SetFullScreen(true)

	canvas := dom.NewCanvas(640, 480)
	canvas.SetStyle("border", "1px solid #ccc")
	ctx := canvas.Context2D()
	ctx.SetFillStyle("#2d7ff9")

	clear := dom.NewButton("Clear")
	clear.On("click", func(dom.Event) {
		ctx.ClearRect(0, 0, 640, 480)
	})
	canvas.On("click", func(ev dom.Event) {
		ctx.FillRect(ev.OffsetX()-drawSize/2, ev.OffsetY()-drawSize/2, drawSize, drawSize)
	})

	root.AppendChild(clear)
	root.AppendChild(canvas.Element)
	return root
}
