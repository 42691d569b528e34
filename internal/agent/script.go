package agent

// bindingName 注入页面的回传绑定名
const bindingName = "__cdptrackEmit"

// captureScript 注入被追踪页面的采集脚本
// 每种事件只安装一个监听器，重复注入由安装标记保证幂等；
// 悬停高亮为单个覆盖层元素，5ms 尾沿节流。
const captureScript = `(() => {
  if (window.__cdptrackInstalled) return;
  window.__cdptrackInstalled = true;

  let listening = false;
  let highlight = null;
  let highlightTimer = null;

  const INTERACTABLE = 'a[href],button,input:not([type=hidden]),textarea,select,[tabindex],[contenteditable]:not([contenteditable=false]),[role=button],[role=link],[role=checkbox],[role=menuitem],[role=tab],[draggable=true]';

  function xpath(el) {
    if (!(el instanceof Element)) return '';
    if (el.id) return '//*[@id="' + el.id + '"]';
    if (el === document.body) return '/html/body';
    const parent = el.parentNode;
    if (!parent || !(parent instanceof Element)) return '/' + el.tagName.toLowerCase();
    let idx = 1;
    for (let sib = el.previousElementSibling; sib; sib = sib.previousElementSibling) {
      if (sib.tagName === el.tagName) idx++;
    }
    return xpath(parent) + '/' + el.tagName.toLowerCase() + '[' + idx + ']';
  }

  function displayText(el) {
    const label = el.getAttribute && el.getAttribute('aria-label');
    if (label) return label;
    if (el.tagName === 'IMG' && el.alt) return el.alt;
    if ((el.tagName === 'INPUT' || el.tagName === 'TEXTAREA') && el.value) return el.value;
    const parts = [];
    for (const n of el.childNodes) {
      if (n.nodeType === 3) {
        const s = n.textContent.trim();
        if (s) parts.push(s);
      }
    }
    return parts.join(' ');
  }

  function elementInfo(el) {
    if (!(el instanceof Element)) return null;
    const rect = el.getBoundingClientRect();
    const info = {
      tagName: el.tagName.toLowerCase(),
      text: displayText(el).slice(0, 50),
      boundingBox: {
        x: rect.x + window.scrollX,
        y: rect.y + window.scrollY,
        width: rect.width,
        height: rect.height
      },
      isInteractable: el.matches(INTERACTABLE),
      className: typeof el.className === 'string' ? el.className : '',
      elementId: el.id || '',
      xpath: xpath(el)
    };
    if (el.tagName === 'IMG') info.alt = el.alt || '';
    if (el.tagName === 'INPUT') {
      info.inputType = el.type;
      if (el.type === 'checkbox' || el.type === 'radio') {
        info.isChecked = !el.checked;
      }
    }
    if (el.tagName === 'SELECT') {
      info.selectedOptions = Array.from(el.selectedOptions).map(o => o.text);
    }
    return info;
  }

  function emit(kind, extra, el) {
    if (!listening) return;
    const payload = Object.assign({
      kind: kind,
      timestamp: Date.now(),
      url: location.href,
      viewport: { width: window.innerWidth, height: window.innerHeight },
      scrollSize: {
        width: document.documentElement.scrollWidth,
        height: document.documentElement.scrollHeight
      },
      scroll: { x: window.scrollX, y: window.scrollY }
    }, extra || {});
    const info = el ? elementInfo(el) : null;
    if (info) payload.element = info;
    window.` + bindingName + `(JSON.stringify(payload));
  }

  function showHighlight(el) {
    if (!listening || !(el instanceof Element)) return;
    if (highlightTimer) clearTimeout(highlightTimer);
    highlightTimer = setTimeout(() => {
      highlightTimer = null;
      const rect = el.getBoundingClientRect();
      if (!highlight) {
        highlight = document.createElement('div');
        highlight.style.cssText = 'position:absolute;pointer-events:none;z-index:2147483647;border:2px solid #4f8ef7;background:rgba(79,142,247,0.15);';
        document.documentElement.appendChild(highlight);
      }
      highlight.style.left = (rect.x + window.scrollX) + 'px';
      highlight.style.top = (rect.y + window.scrollY) + 'px';
      highlight.style.width = rect.width + 'px';
      highlight.style.height = rect.height + 'px';
    }, 5);
  }

  function removeHighlight() {
    if (highlightTimer) {
      clearTimeout(highlightTimer);
      highlightTimer = null;
    }
    if (highlight) {
      highlight.remove();
      highlight = null;
    }
  }

  document.addEventListener('click', (e) => {
    const t = e.target;
    if (t instanceof HTMLInputElement && (t.type === 'checkbox' || t.type === 'radio')) {
      emit('checkboxesAndRadios', { inputType: t.type, checked: t.checked }, t);
      return;
    }
    emit('click', { x: e.pageX, y: e.pageY }, t);
  }, true);

  document.addEventListener('change', (e) => {
    const t = e.target;
    if (t instanceof HTMLSelectElement) {
      emit('selectOptions', {
        selectedOptions: Array.from(t.selectedOptions).map(o => o.text)
      }, t);
    }
  }, true);

  document.addEventListener('keydown', (e) => emit('keyDown', { key: e.key }, e.target), true);
  document.addEventListener('keyup', (e) => emit('keyUp', { key: e.key }, e.target), true);

  document.addEventListener('mousemove', (e) => {
    showHighlight(e.target);
    emit('pointerMove', { x: e.pageX, y: e.pageY }, e.target);
  }, { passive: true });

  window.addEventListener('resize', () => {
    emit('resize', { width: window.innerWidth, height: window.innerHeight });
  });

  window.addEventListener('wheel', (e) => {
    emit('wheel', { x: e.pageX, y: e.pageY, deltaX: e.deltaX, deltaY: e.deltaY });
  }, { passive: true });

  window.addEventListener('scroll', () => emit('scroll', {}), { passive: true });

  window.addEventListener('popstate', () => emit('popstate', { url: location.href }));

  window.addEventListener('load', () => {
    const nav = performance.getEntriesByType('navigation')[0];
    if (nav && nav.type === 'back_forward') emit('restore', { url: location.href });
  });

  window.__cdptrackSetListening = (v) => {
    listening = !!v;
    if (!listening) removeHighlight();
  };
  window.__cdptrackRemoveHighlight = removeHighlight;
})();`
