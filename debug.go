// This file contains code to help debugging, and is
// separated in from the rest in order not to litter
// the main code with debugging stuff

package main

import (
	"fmt"
	"log"
	"sync"

	"github.com/524D/nparc/internal/nparc"
	"github.com/524D/nparc/internal/tpp"
)

var debugProteins string // Print debug output for given protein range

// Proteins are fitted concurrently, keep their output together
var debugMux sync.Mutex

func debugLogProtein(i int, g tpp.Group, rec nparc.Record,
	detail nparc.Detail, par params) {

	if par.debug {
		for _, f := range append([]nparc.FitDetail{detail.Null}, detail.Alt...) {
			if f.Attempts > 1 {
				log.Printf("%s/%s condition %q: %d fit attempts, converged: %v",
					rec.Dataset, rec.UniqueID, f.Condition, f.Attempts, f.Converged)
			}
		}
	}

	if debugProteins == `` || i < par.debugFirst || i > par.debugLast {
		return
	}

	debugMux.Lock()
	defer debugMux.Unlock()
	fmt.Printf("Protein:%d dataset:%s id:%s points:%d repeated:%d applicable:%v\n",
		i, rec.Dataset, rec.UniqueID, len(g.Points), rec.TimesRepeated, rec.Applicable)
	fmt.Printf("rssNull:%g rssAlt:%g rssDiff:%g nFittedNull:%d nFittedAlt:%d nCoeffsNull:%d nCoeffsAlt:%d\n",
		rec.RSSNull, rec.RSSAlt, rec.RSSDiff, rec.NFittedNull, rec.NFittedAlt,
		rec.NCoeffsNull, rec.NCoeffsAlt)
	debugPrintFit(`null`, detail.Null)
	for _, f := range detail.Alt {
		debugPrintFit(`conc `+f.Condition, f)
	}
	for _, c := range g.Conditions() {
		fmt.Printf("  conc %s:", c.Label())
		for _, p := range c.Points {
			fmt.Printf(" %g/%g", p.Temperature, p.RelAbundance)
		}
		fmt.Printf("\n")
	}
}

func debugPrintFit(name string, f nparc.FitDetail) {
	if !f.Converged {
		fmt.Printf("  %-10s not converged after %d attempts\n", name, f.Attempts)
		return
	}
	fmt.Printf("  %-10s plateau:%f slope:%f inflection:%f tm:%f rss:%g n:%d attempts:%d\n",
		name, f.Params.Plateau, f.Params.Slope, f.Params.Inflection,
		f.Params.Midpoint(), f.RSS, f.NFitted, f.Attempts)
}

// debugListExcluded lists the records that needed extra rounds or
// still have a negative RSS difference
func debugListExcluded(recs []nparc.Record) {
	if debugProteins == `` {
		return
	}
	fmt.Printf("Repeated or negative comparisons\n")
	for i, r := range recs {
		if r.TimesRepeated > 0 || !(r.RSSDiff >= 0) {
			fmt.Printf("%d %s/%s repeated:%d rssDiff:%g\n",
				i, r.Dataset, r.UniqueID, r.TimesRepeated, r.RSSDiff)
		}
	}
}
