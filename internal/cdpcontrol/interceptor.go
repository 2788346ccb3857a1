package cdpcontrol

// volumeMessageType tags the page-internal broadcast between the agent's
// evaluated commands and the injected interceptor. Pages post all kinds of
// messages at window scope; anything without this tag is ignored.
const volumeMessageType = "VOLUME_AGENT_SET"

// readyBindingName is the CDP binding the interceptor calls once installed.
const readyBindingName = "__volumeAgentReady"

// interceptorJS is installed via Page.addScriptToEvaluateOnNewDocument so it
// runs before any page script. It patches the audio-context constructors so
// every audio graph routes through an agent-owned gain stage, wraps stray
// media elements with their own gain path, watches the DOM for late-added
// media, and listens for tagged window messages carrying volume updates.
//
// Failure policy: nothing in here may ever break the page's native audio. A
// failed wrap leaves the original behavior untouched; cross-origin iframe
// access failures are swallowed.
const interceptorJS = `(function () {
  if (window.__volumeAgentInstalled) return;
  window.__volumeAgentInstalled = true;

  var MESSAGE_TYPE = "` + volumeMessageType + `";

  // All interceptor state hangs off one object closed over by the functions
  // below; nothing else is written to the page's global scope besides the
  // guard flag, the probe accessor, and the patched constructors.
  var agent = {
    volume: 1.0,
    gains: [],
    processed: (typeof WeakSet === "function") ? new WeakSet() : null,
    wrappedMedia: 0
  };

  function applyGain(node) {
    try {
      node.gain.setValueAtTime(agent.volume, node.context.currentTime);
    } catch (err) {
      try { node.gain.value = agent.volume; } catch (_) {}
    }
  }

  function registerGain(node) {
    agent.gains.push(node);
    applyGain(node);
  }

  // Constructor patching: the wrapped constructor builds the real context,
  // splices a gain node in front of the hardware destination, and redirects
  // the destination accessor so page code connects into the gain stage
  // without knowing it. Prototype identity is preserved for instanceof.
  function wrapContextConstructor(name) {
    var Original = window[name];
    if (typeof Original !== "function") return;

    function WrappedAudioContext() {
      var ctx = arguments.length ? new Original(arguments[0]) : new Original();
      try {
        var gain = ctx.createGain();
        var hardwareDestination = ctx.destination;
        gain.connect(hardwareDestination);
        Object.defineProperty(ctx, "destination", {
          get: function () { return gain; },
          configurable: true
        });
        registerGain(gain);
      } catch (err) {
        // Wrapping failed; hand back the unwrapped context so playback works.
      }
      return ctx;
    }

    WrappedAudioContext.prototype = Original.prototype;
    window[name] = WrappedAudioContext;
  }

  wrapContextConstructor("AudioContext");
  wrapContextConstructor("webkitAudioContext");

  // Media elements playing through their own implicit pipeline get a
  // dedicated context whose (already wrapped) destination is the gain stage.
  // The browser permits exactly one media-element source per element, so
  // membership in the processed set is checked before any attempt, and a
  // failed attempt is also recorded to avoid a guaranteed second failure.
  function wrapMediaElement(el) {
    if (!el) return;
    if (agent.processed) {
      if (agent.processed.has(el)) return;
    } else if (el.__volumeAgentWrapped) {
      return;
    }

    var Ctx = window.AudioContext || window.webkitAudioContext;
    if (typeof Ctx !== "function") return;

    markProcessed(el);
    try {
      var ctx = new Ctx();
      var source = ctx.createMediaElementSource(el);
      var dest = ctx.destination;
      if (!(dest && dest.gain)) {
        // Constructor wrap fell back to a bare context; add the gain here.
        var gain = ctx.createGain();
        gain.connect(dest);
        registerGain(gain);
        dest = gain;
      }
      source.connect(dest);
      agent.wrappedMedia++;
      el.addEventListener("play", function () {
        try { ctx.resume(); } catch (_) {}
      });
    } catch (err) {
      // Source already connected elsewhere, or a security restriction.
      // Native playback continues untouched.
    }
  }

  function markProcessed(el) {
    if (agent.processed) agent.processed.add(el);
    else el.__volumeAgentWrapped = true;
  }

  function collectMedia(doc, out) {
    var els, i;
    try {
      els = doc.querySelectorAll("audio, video");
    } catch (err) {
      return;
    }
    for (i = 0; i < els.length; i++) out.push(els[i]);

    var frames;
    try {
      frames = doc.querySelectorAll("iframe");
    } catch (err) {
      return;
    }
    for (i = 0; i < frames.length; i++) {
      try {
        var idoc = frames[i].contentDocument;
        if (idoc) collectMedia(idoc, out);
      } catch (err) {
        // Cross-origin frame; skip it and keep scanning the rest.
      }
    }
  }

  function scan() {
    var media = [];
    collectMedia(document, media);
    for (var i = 0; i < media.length; i++) wrapMediaElement(media[i]);
  }

  function nodeNeedsScan(node) {
    if (!node || !node.tagName) return false;
    var tag = node.tagName.toUpperCase();
    if (tag === "AUDIO" || tag === "VIDEO" || tag === "IFRAME") return true;
    try {
      return !!(node.querySelector && node.querySelector("audio, video, iframe"));
    } catch (err) {
      return false;
    }
  }

  var observer = null;
  function startWatch() {
    try {
      observer = new MutationObserver(function (mutations) {
        for (var m = 0; m < mutations.length; m++) {
          var added = mutations[m].addedNodes;
          for (var n = 0; n < added.length; n++) {
            if (nodeNeedsScan(added[n])) { scan(); return; }
          }
        }
      });
      observer.observe(document.documentElement || document, { childList: true, subtree: true });
    } catch (err) {}
  }

  // Fallback reconciliation: some sources appear via attribute flips the
  // structural observer never sees. The trade-off is a wasted scan every few
  // seconds against never missing an element.
  setInterval(scan, 3000);

  if (document.readyState === "loading") {
    document.addEventListener("DOMContentLoaded", function () {
      startWatch();
      scan();
    });
  } else {
    startWatch();
    scan();
  }

  var badgeEl = null;
  function showBadge(percent) {
    try {
      if (percent === 100) {
        if (badgeEl && badgeEl.parentNode) badgeEl.parentNode.removeChild(badgeEl);
        badgeEl = null;
        return;
      }
      if (!document.body) return;
      if (!badgeEl) {
        badgeEl = document.createElement("div");
        badgeEl.style.cssText = "position:fixed;top:8px;right:8px;z-index:2147483647;" +
          "background:rgba(0,0,0,.75);color:#fff;font:12px/1.6 sans-serif;" +
          "padding:1px 7px;border-radius:9px;pointer-events:none;";
        document.body.appendChild(badgeEl);
      }
      badgeEl.textContent = percent + "%";
      badgeEl.style.background = percent > 100 ? "rgba(217,48,37,.85)" : "rgba(26,115,232,.85)";
    } catch (err) {}
  }

  window.addEventListener("message", function (event) {
    var data = event.data;
    if (!data || data.type !== MESSAGE_TYPE) return;
    var percent = Number(data.volume);
    if (!isFinite(percent) || percent < 0) return;
    agent.volume = percent / 100;
    for (var i = 0; i < agent.gains.length; i++) applyGain(agent.gains[i]);
    scan();
    showBadge(Math.round(percent));
  });

  window.__volumeAgentProbe = function () {
    var media = [];
    collectMedia(document, media);
    return {
      installed: true,
      media_total: media.length,
      media_wrapped: agent.wrappedMedia,
      gain_contexts: agent.gains.length,
      volume: Math.round(agent.volume * 100)
    };
  };

  try {
    if (typeof window.` + readyBindingName + ` === "function") {
      window.` + readyBindingName + `(JSON.stringify({ url: String(location.href) }));
    }
  } catch (err) {}
})();`
