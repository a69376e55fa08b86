package main

import (
	"fmt"
	"path"

	"github.com/cheggaaa/pb/v3"

	"github.com/chmdznr/biosync/pkg/models"
	"github.com/chmdznr/biosync/pkg/utils"
)

// barProgress renders one progress bar per category
type barProgress struct {
	bar *pb.ProgressBar
}

func (p *barProgress) Begin(c models.Category, files []models.RemoteFile) {
	if len(files) == 0 {
		fmt.Printf("%-10s no new files\n", c)
		return
	}
	var size int64
	for _, f := range files {
		size += f.Size
	}
	p.bar = pb.New(len(files))
	p.bar.SetTemplate(`{{string . "category"}} {{counters . }} {{bar . }} {{percent . }} {{string . "last"}}`)
	p.bar.Set("category", fmt.Sprintf("%-10s", c))
	p.bar.Set("last", utils.FormatSize(size))
	p.bar.Start()
}

func (p *barProgress) FileDone(s models.Stats) {
	if p.bar == nil {
		return
	}
	last := fmt.Sprintf("%s: %d readings in %s", path.Base(s.File.Key), s.Written, utils.FormatDuration(s.Elapsed))
	if s.Truncated > 0 {
		last += fmt.Sprintf(" (%d older rows dropped)", s.Truncated)
	}
	p.bar.Set("last", last)
	p.bar.Increment()
}

func (p *barProgress) End(c models.Category) {
	if p.bar == nil {
		return
	}
	p.bar.Finish()
	p.bar = nil
}
