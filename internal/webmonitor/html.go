package webmonitor

const pageStyle = `
    <style>
        body { font-family: system-ui, sans-serif; margin: 0; background: #101418; color: #e6e6e6; }
        .header { display: flex; justify-content: space-between; align-items: center; padding: 12px 20px; background: #1b222a; }
        .header a { color: #8fd18f; margin-left: 16px; text-decoration: none; }
        .title { font-size: 20px; font-weight: 600; }
        .grid { display: grid; grid-template-columns: 1fr 1fr; gap: 16px; padding: 16px 20px; }
        .panel { background: #1b222a; border-radius: 8px; padding: 16px; }
        .panel h2 { margin-top: 0; font-size: 16px; }
        .log-item { display: flex; justify-content: space-between; padding: 6px 0; border-bottom: 1px solid #2a333d; }
        .log-confidence { color: #8fd18f; }
        .no-detections { color: #888; }
        .alert-high { color: #ff6b6b; }
        .alert-caution { color: #ffa94d; }
        img, video { max-width: 100%; }
        #loadingSpinner { display: none; color: #8fd18f; }
    </style>`

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Wildlife Detection</title>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">` + pageStyle + `
</head>
<body>
    <div class="header">
        <div class="title">🐾 Wildlife Detection</div>
        <div><a href="/">Upload</a><a href="/realtime">Live</a><a href="/api/status">Status</a></div>
    </div>
    <div class="grid">
        <div class="panel">
            <h2>Image</h2>
            <form id="imageUploadForm">
                <input type="file" id="imageInput" accept="image/*">
                <button type="submit">Detect</button>
            </form>
            <h2 style="margin-top:20px;">Video</h2>
            <form id="videoUploadForm">
                <input type="file" id="videoInput" accept="video/*">
                <button type="submit">Process</button>
            </form>
            <div id="loadingSpinner">Processing...</div>
            <div id="previewSection" style="display:none;margin-top:16px;"></div>
        </div>
        <div class="panel" id="resultSection" style="display:none;">
            <h2>Result</h2>
            <img id="resultImage" style="display:none;">
            <video id="resultVideo" controls style="display:none;"></video>
            <h2 style="margin-top:16px;">Detections</h2>
            <div id="detectionLog"></div>
        </div>
    </div>
    <script>
    document.addEventListener('DOMContentLoaded', function() {
        const $ = (id) => document.getElementById(id);

        function bind(formId, inputId, type) {
            $(formId).addEventListener('submit', function(e) {
                e.preventDefault();
                const input = $(inputId);
                if (!input.files.length) return;
                const file = input.files[0];
                if (!file.type.startsWith(type + '/')) {
                    alert('Please upload a ' + type + ' file');
                    return;
                }
                processFile(file, type);
            });
        }

        function processFile(file, type) {
            $('loadingSpinner').style.display = 'block';
            const preview = $('previewSection');
            const url = URL.createObjectURL(file);
            preview.innerHTML = type === 'image'
                ? '<img src="' + url + '">'
                : '<video controls src="' + url + '"></video>';
            preview.style.display = 'block';

            const form = new FormData();
            form.append('file', file);
            form.append('type', type);
            fetch('/detect', { method: 'POST', body: form })
                .then(r => r.json())
                .then(data => {
                    $('loadingSpinner').style.display = 'none';
                    if (data.error) throw new Error(data.error);
                    showResults(data, type);
                })
                .catch(err => {
                    $('loadingSpinner').style.display = 'none';
                    alert('Error processing file: ' + err.message);
                });
        }

        function showResults(data, type) {
            $('resultSection').style.display = 'block';
            const log = $('detectionLog');
            log.innerHTML = '';
            if (data.detections && data.detections.length > 0) {
                data.detections.forEach(det => {
                    const item = document.createElement('div');
                    item.className = 'log-item';
                    const label = det.display_name || det.class || 'Animal';
                    item.innerHTML = '<span class="log-label"></span><span class="log-confidence">' +
                        (det.confidence * 100).toFixed(2) + '%</span>';
                    item.firstChild.textContent = det.alert || label;
                    log.appendChild(item);
                });
            } else {
                log.innerHTML = '<div class="no-detections">No animals detected</div>';
            }
            if (type === 'image' && data.image_url) {
                $('resultImage').src = data.image_url;
                $('resultImage').style.display = 'block';
                $('resultVideo').style.display = 'none';
            } else if (type === 'video' && data.video_url) {
                $('resultVideo').src = data.video_url;
                $('resultVideo').style.display = 'block';
                $('resultImage').style.display = 'none';
                $('resultVideo').load();
            }
        }

        bind('imageUploadForm', 'imageInput', 'image');
        bind('videoUploadForm', 'videoInput', 'video');
    });
    </script>
</body>
</html>
`

const realtimeHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Wildlife Detection - Live</title>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">` + pageStyle + `
</head>
<body>
    <div class="header">
        <div class="title">🐾 Live Detection</div>
        <div><a href="/">Upload</a><a href="/realtime">Live</a><a href="/api/status">Status</a></div>
    </div>
    <div class="grid">
        <div class="panel">
            <h2>Camera</h2>
            <img id="stream" src="/video_feed" alt="Live camera feed with detections">
        </div>
        <div class="panel">
            <h2>Recent detections</h2>
            <div id="detectionLog"><div class="no-detections">Waiting for detections...</div></div>
        </div>
    </div>
    <script>
    (function() {
        const log = document.getElementById('detectionLog');
        const severityClass = { high: 'alert-high', caution: 'alert-caution' };
        let first = true;
        const source = new EventSource('/api/detections/stream');
        source.onmessage = function(e) {
            const event = JSON.parse(e.data);
            if (!event.detections || event.detections.length === 0) return;
            if (first) { log.innerHTML = ''; first = false; }
            const time = new Date(event.timestamp * 1000).toLocaleTimeString();
            event.detections.forEach(det => {
                const item = document.createElement('div');
                item.className = 'log-item';
                const label = document.createElement('span');
                label.textContent = time + ' ' + (det.alert || det.display_name);
                if (det.category === 'large_mammals') label.className = severityClass.high;
                if (det.category === 'carnivores') label.className = severityClass.caution;
                const conf = document.createElement('span');
                conf.className = 'log-confidence';
                conf.textContent = (det.confidence * 100).toFixed(1) + '%';
                item.appendChild(label);
                item.appendChild(conf);
                log.insertBefore(item, log.firstChild);
            });
            while (log.children.length > 50) log.removeChild(log.lastChild);
        };
    })();
    </script>
</body>
</html>
`
