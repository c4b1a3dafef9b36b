// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/atlas/services/atlas"
	"github.com/AleutianAI/atlas/services/atlas/rules"
)

// InstanceTable prints one row per instance.
//
// Machine output is tab-separated: name, state, identity, directory.
func (p *Printer) InstanceTable(infos []atlas.Info) {
	if p.level == PersonalityMachine {
		for _, info := range infos {
			fmt.Fprintf(p.out, "%s\t%s\t%s\t%s\n", info.Name, info.State, info.Identity, info.Directory)
		}
		return
	}
	if len(infos) == 0 {
		fmt.Fprintln(p.out, Styles.Muted.Render("No instances registered."))
		return
	}

	nameWidth := len("NAME")
	for _, info := range infos {
		if w := lipgloss.Width(info.Name); w > nameWidth {
			nameWidth = w
		}
	}
	nameCol := lipgloss.NewStyle().Width(nameWidth + 2)
	stateCol := lipgloss.NewStyle().Width(12)

	fmt.Fprintln(p.out, "  "+Styles.Header.Render(nameCol.Render("NAME")+stateCol.Render("STATE")+"DIRECTORY"))
	for _, info := range infos {
		fmt.Fprintf(p.out, "%s %s%s%s\n",
			stateIcon(info.State).Render(),
			nameCol.Render(info.Name),
			stateCol.Render(info.State),
			Styles.Muted.Render(info.Directory))
	}
	fmt.Fprintln(p.out, Styles.Muted.Render(summaryLine(infos)))
}

// RuleTable prints the rule catalogue.
func (p *Printer) RuleTable(defs []rules.Definition) {
	if p.level == PersonalityMachine {
		for _, def := range defs {
			fmt.Fprintf(p.out, "%s\t%s\n", def.Key, def.Type)
		}
		return
	}
	keyWidth := 0
	for _, def := range defs {
		if w := len(def.Key.String()); w > keyWidth {
			keyWidth = w
		}
	}
	keyCol := lipgloss.NewStyle().Width(keyWidth + 2)
	for _, def := range defs {
		fmt.Fprintf(p.out, "%s %s%s\n", IconArrow.Render(), keyCol.Render(def.Key.String()), Styles.Muted.Render(def.Type.String()))
	}
}

func stateIcon(state string) Icon {
	switch state {
	case atlas.StateLoaded.String():
		return IconSuccess
	case atlas.StateLoading.String():
		return IconWarning
	default:
		return IconPending
	}
}

func summaryLine(infos []atlas.Info) string {
	loaded := 0
	for _, info := range infos {
		if info.Loaded {
			loaded++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d instance", len(infos))
	if len(infos) != 1 {
		b.WriteString("s")
	}
	fmt.Fprintf(&b, ", %d loaded", loaded)
	return b.String()
}
