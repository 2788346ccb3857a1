package cdpcontrol

import "fmt"

func buildIIFE(body string) string {
	return `(function(){
try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}

func wrapJSEval(body string) string { return buildIIFE(body) }

// jsApplyVolume posts the tagged volume broadcast into the page. The
// interceptor picks it up, retargets every registered gain node, and rescans
// for media it has not wrapped yet.
func jsApplyVolume(volume int) string {
	return wrapJSEval(fmt.Sprintf(`
var volume = %d;
if (!window.__volumeAgentInstalled) return JSON.stringify({ok:false,error_code:"%s",error_message:"interceptor not installed"});
window.postMessage({type:"%s", volume: volume}, "*");
return JSON.stringify({ok:true,data:{volume:volume}});
`, volume, CodeEvalFailure, volumeMessageType))
}

// jsProbePage reads the interceptor's counters.
func jsProbePage() string {
	return wrapJSEval(`
if (!window.__volumeAgentInstalled || typeof window.__volumeAgentProbe !== "function") {
  return JSON.stringify({ok:true,data:{installed:false,media_total:0,media_wrapped:0,gain_contexts:0,volume:100}});
}
return JSON.stringify({ok:true,data:window.__volumeAgentProbe()});
`)
}

// jsCheckAvailability answers whether the page supports volume interception.
func jsCheckAvailability() string {
	return wrapJSEval(`
var installed = !!window.__volumeAgentInstalled;
return JSON.stringify({ok:true,data:{available:installed,url:String(location.href)}});
`)
}
