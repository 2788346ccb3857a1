package api

// popupHTML is the slider UI, served at /popup. It is the same control the
// agent exposes over /api/v1: pick a tab, drag the slider, manage stored
// domain volumes. Styling follows the docs page.
const popupHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Volume Agent</title>
  <style>
    body { background: #0d1117; color: #c9d1d9; margin: 0; padding: 16px;
           font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif; }
    h1 { font-size: 16px; margin: 0 0 12px; }
    select, button { background: #161b22; color: #c9d1d9; border: 1px solid #30363d;
           border-radius: 6px; font-size: 13px; padding: 5px 10px; }
    button { cursor: pointer; color: #58a6ff; }
    #tab-select { width: 100%; margin-bottom: 16px; }
    #volume-label { font-size: 28px; font-weight: 600; text-align: center; margin: 8px 0; }
    #volume-label.boost { color: #f85149; }
    #volume-label.cut { color: #58a6ff; }
    #slider { width: 100%; }
    #unavailable { color: #8b949e; font-size: 12px; text-align: center; display: none; }
    table { width: 100%; border-collapse: collapse; margin-top: 20px; font-size: 13px; }
    th, td { text-align: left; padding: 5px 8px; border-bottom: 1px solid #21262d; }
    th { color: #8b949e; font-weight: 500; }
  </style>
</head>
<body>
  <h1>Volume Agent</h1>
  <select id="tab-select"></select>
  <div id="volume-label">100%</div>
  <input id="slider" type="range" min="0" max="69" value="10" />
  <div id="unavailable">volume control not available on this page</div>
  <table>
    <thead><tr><th>Domain</th><th>Volume</th><th></th></tr></thead>
    <tbody id="domains"></tbody>
  </table>
  <script>
    var tabSelect = document.getElementById('tab-select');
    var slider = document.getElementById('slider');
    var label = document.getElementById('volume-label');
    var unavailable = document.getElementById('unavailable');

    function stepToPercent(raw) {
      raw = Number(raw);
      return raw <= 10 ? raw : (raw - 9) * 10;
    }

    function render(percent, available) {
      label.textContent = percent + '%';
      label.className = percent > 100 ? 'boost' : (percent < 100 ? 'cut' : '');
      unavailable.style.display = available ? 'none' : 'block';
      slider.disabled = !available;
    }

    function loadTabs() {
      fetch('/api/v1/tabs').then(function (r) { return r.json(); }).then(function (data) {
        tabSelect.innerHTML = '';
        (data.tabs || []).forEach(function (tab) {
          var opt = document.createElement('option');
          opt.value = tab.tab_id;
          opt.textContent = (tab.domain || tab.url) + (tab.title ? ' — ' + tab.title : '');
          tabSelect.appendChild(opt);
        });
        if (tabSelect.value) loadState(tabSelect.value);
      });
    }

    function loadState(tabID) {
      fetch('/api/v1/tab/' + tabID + '/popup').then(function (r) { return r.json(); }).then(function (st) {
        slider.max = st.slider_max;
        slider.value = st.slider_position;
        render(st.volume, st.available);
      });
    }

    function loadDomains() {
      fetch('/api/v1/domains').then(function (r) { return r.json(); }).then(function (data) {
        var tbody = document.getElementById('domains');
        tbody.innerHTML = '';
        (data.domains || []).forEach(function (d) {
          var tr = document.createElement('tr');
          tr.innerHTML = '<td>' + d.domain + '</td><td>' + d.volume + '%</td>';
          var td = document.createElement('td');
          var btn = document.createElement('button');
          btn.textContent = 'reset';
          btn.onclick = function () {
            fetch('/api/v1/domain/' + encodeURIComponent(d.domain), { method: 'DELETE' })
              .then(function () { loadDomains(); if (tabSelect.value) loadState(tabSelect.value); });
          };
          td.appendChild(btn);
          tr.appendChild(td);
          tbody.appendChild(tr);
        });
      });
    }

    slider.addEventListener('input', function () {
      var tabID = tabSelect.value;
      if (!tabID) return;
      render(stepToPercent(slider.value), true);
      fetch('/api/v1/tab/' + tabID + '/slider', {
        method: 'PUT',
        headers: { 'Content-Type': 'application/json' },
        body: JSON.stringify({ position: Number(slider.value) })
      });
    });
    slider.addEventListener('change', loadDomains);
    tabSelect.addEventListener('change', function () { loadState(tabSelect.value); });

    loadTabs();
    loadDomains();
    setInterval(loadDomains, 5000);
  </script>
</body>
</html>`
